package cmd

import "fmt"

// cmdError builds a plain CLI-usage error, distinct from the volume
// package's *errors.Error taxonomy since it never reaches fsck exit-code
// translation.
func cmdError(context, msg string) error {
	return fmt.Errorf("%s: %s", context, msg)
}
