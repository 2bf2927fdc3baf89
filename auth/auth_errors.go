package auth

import (
	kerrors "github.com/jrsteele09/go-session-keeper/internal/errors"
)

var ErrNoLogin = kerrors.Wrapf(kerrors.ErrUnsupported, "provider has no login")
