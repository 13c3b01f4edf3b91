package apperr

var (
	ErrUsernameTaken      = Conflict("username is already taken")
	ErrUserNotFound       = NotFound("user not found")
	ErrInvalidUsername    = InvalidArg("username must be 3-32 characters: letters, digits, '.' or '-'")
	ErrWeakPassword       = InvalidArg("password must be 8-72 characters with upper, lower, digit and symbol")
	ErrInvalidCredentials = Unauthorized("invalid credentials")
	ErrNotParticipant     = Forbidden("not a participant of this chat")
	ErrMessageNotFound    = NotFound("message not found")
	ErrUploadNotFound     = NotFound("upload not found")
	ErrEventNotFound      = NotFound("event not found")
	ErrTaskNotFound       = NotFound("task not found")
	ErrInvalidTaskStatus  = InvalidArg("task status must be 'not-complete' or 'complete'")
)

func ErrMissingField(name string) error {
	return InvalidArg(name + " is required")
}
