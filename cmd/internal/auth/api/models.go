package authapi

import "time"

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Password string `json:"password"`
}

type googleLoginRequest struct {
	IDToken    string `json:"idToken"`
	RememberMe bool   `json:"rememberMe"`
}

type accountResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"fullName"`
	AvatarURL *string   `json:"avatarUrl"`
	Role      string    `json:"role"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"createdAt"`
}

type accountEnvelope struct {
	User accountResponse `json:"user"`
}

type messageResponse struct {
	Message string `json:"message"`
}
