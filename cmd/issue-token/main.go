package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/logger"
	"github.com/stemsi/exstem-session/internal/service"
)

// issue-token prints a student JWT signed with JWT_SECRET, for load tests and
// the e2e suite. Production tokens come from the identity service.
func main() {
	var (
		studentID int
		classID   int
		ttl       time.Duration
	)
	flag.IntVar(&studentID, "student", 0, "Student ID to embed in the token")
	flag.IntVar(&classID, "class", 0, "Class ID to embed in the token")
	flag.DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to JWT_EXPIRY_HOURS)")
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	if studentID <= 0 {
		fmt.Fprintln(os.Stderr, "Error: -student is required")
		flag.Usage()
		os.Exit(2)
	}
	if ttl <= 0 {
		ttl = cfg.JWTExpiry
	}

	token, err := service.NewAuthService(cfg.JWTSecret, ttl).GenerateStudentToken(studentID, classID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to sign token")
	}

	log.Debug().Int("student_id", studentID).Dur("ttl", ttl).Msg("Token issued")
	fmt.Println(token)
}
