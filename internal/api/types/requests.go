package types

// RoomCreateRequest declares the provisioning options for a new room.
// Unset fields fall back to defaults; unset passwords are generated.
type RoomCreateRequest struct {
	Image         string `json:"image" validate:"omitempty,oneof=vivaldi ungoogled-chromium microsoft-edge brave firefox chromium google-chrome tor-browser remmina xfce vlc vncviewer"`
	Resolution    string `json:"resolution" validate:"omitempty,oneof=720p 1080p"`
	FPS           int    `json:"fps" validate:"omitempty,oneof=30 60"`
	Password      string `json:"password"`
	AdminPassword string `json:"adminPassword"`
	CallbackURL   string `json:"callback_url" validate:"omitempty,url"`
}

// RoomCallbackRequest is the push-path status report from a room agent.
type RoomCallbackRequest struct {
	Status string `json:"status" validate:"required"`
	Step   int    `json:"step" validate:"required"`
}

type RegisterRequest struct {
	Name     string `json:"name" validate:"required,min=3,max=64"`
	Password string `json:"password" validate:"required,min=8"`
}

type LoginRequest struct {
	Name     string `json:"name" validate:"required"`
	Password string `json:"password" validate:"required"`
}
