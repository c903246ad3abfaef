// Package provision turns declared room options into the opaque boot
// payload handed to the compute instance.
package provision

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	appErr "github.com/neko-do/engine/pkg/errors"
	"github.com/neko-do/engine/pkg/utils"
)

// Options are the immutable provisioning options of a room.
type Options struct {
	Image         string `json:"image" validate:"omitempty,oneof=vivaldi ungoogled-chromium microsoft-edge brave firefox chromium google-chrome tor-browser remmina xfce vlc vncviewer"`
	Resolution    string `json:"resolution" validate:"omitempty,oneof=720p 1080p"`
	FPS           int    `json:"fps" validate:"omitempty,oneof=30 60"`
	Password      string `json:"password"`
	AdminPassword string `json:"adminPassword"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateAndFill checks the declared options and fills defaults: image
// firefox, 720p at 30 fps, random session secrets when none are supplied.
func ValidateAndFill(o *Options) error {
	if err := validate.Struct(o); err != nil {
		return appErr.Wrap(err, appErr.CodeInvalid, "invalid provisioning options")
	}
	if o.Image == "" {
		o.Image = "firefox"
	}
	if o.Resolution == "" {
		o.Resolution = "720p"
	}
	if o.FPS == 0 {
		o.FPS = 30
	}
	if o.Password == "" {
		o.Password = utils.RandomSecret()
	}
	if o.AdminPassword == "" {
		o.AdminPassword = utils.RandomSecret()
	}
	return nil
}

// Screen returns the neko screen spec, e.g. "1280x720@30".
func (o Options) Screen() string {
	res := "1280x720"
	if o.Resolution == "1080p" {
		res = "1920x1080"
	}
	return fmt.Sprintf("%s@%d", res, o.FPS)
}
