package flash

import "errors"

// ErrInvalidPackName is returned by PackStore.Save for names that are not a
// plain "*.pack" file name.
var ErrInvalidPackName = errors.New("flash: invalid pack name")
