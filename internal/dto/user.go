package dto

// LoginRequest is the JSON body for POST /api/login. Username may hold a username or an email.
type LoginRequest struct {
	Username string `json:"username" binding:"max=255"`
	Password string `json:"password" binding:"max=72"`
}

// RegisterRequest is the JSON body for POST /api/register.
type RegisterRequest struct {
	Username string `json:"username" binding:"max=255"`
	Email    string `json:"email" binding:"max=255"`
	Password string `json:"password" binding:"max=72"`
}

// ForgotPasswordRequest is the JSON body for POST /api/forgot-password.
type ForgotPasswordRequest struct {
	Email string `json:"email" binding:"max=255"`
}

// ResetPasswordRequest is the JSON body for PUT /api/reset-password.
// Email is accepted only to reject the legacy unsigned flow with a clear message.
type ResetPasswordRequest struct {
	Token       string `json:"token"`
	Email       string `json:"email"`
	NewPassword string `json:"newPassword" binding:"max=72"`
}

// UserResponse is returned when user info is needed (e.g. after login).
type UserResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// LoginResponse is the body of a successful login.
type LoginResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the body of every failed request. Field names the offending input when known.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}
