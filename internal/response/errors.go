package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrTokenExpired  ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Exam session ──────────────────────────────────────────────────
	ErrExamNotFound     ErrCode = "EXAM_NOT_FOUND"
	ErrExamNotGradable  ErrCode = "EXAM_NOT_GRADABLE"
	ErrProgressNotFound ErrCode = "PROGRESS_NOT_FOUND"
	ErrResultNotFound   ErrCode = "RESULT_NOT_FOUND"
	ErrProgressPaused   ErrCode = "PROGRESS_PAUSED"
	ErrAlreadyPaused    ErrCode = "ALREADY_PAUSED"
	ErrNotPaused        ErrCode = "NOT_PAUSED"
	ErrAlreadySubmitted ErrCode = "ALREADY_SUBMITTED"
	ErrResumeExpired    ErrCode = "RESUME_EXPIRED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrServiceUnavailable ErrCode = "SERVICE_UNAVAILABLE"
	ErrInternal           ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."
	case ErrTokenExpired:
		return "Token autentikasi telah kedaluwarsa."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrStudentAccessOnly:
		return "Sumber daya ini terbatas untuk siswa."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."

	// ─── Exam session ──────────────────────────────────────────────────
	case ErrExamNotFound:
		return "Ujian tidak ditemukan."
	case ErrExamNotGradable:
		return "Ujian ini tidak dapat dinilai."
	case ErrProgressNotFound:
		return "Belum ada progres tersimpan untuk ujian ini."
	case ErrResultNotFound:
		return "Ujian ini belum dikumpulkan."
	case ErrProgressPaused:
		return "Ujian sedang dijeda. Lanjutkan terlebih dahulu untuk menyimpan jawaban."
	case ErrAlreadyPaused:
		return "Ujian sudah dalam keadaan dijeda."
	case ErrNotPaused:
		return "Ujian tidak sedang dijeda."
	case ErrAlreadySubmitted:
		return "Ujian ini sudah dikumpulkan."
	case ErrResumeExpired:
		return "Batas waktu untuk melanjutkan ujian telah habis."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrServiceUnavailable:
		return "Layanan sedang tidak tersedia. Silakan coba lagi."
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
