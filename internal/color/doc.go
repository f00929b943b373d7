// Package color holds the terminal palette for suitectl output.
//
// Styles are semantic rather than literal: Success for passed runs and
// healthy services, Warning for timeouts and interruptions, Error for
// failures and Muted for de-emphasized text. Each uses an adaptive color so
// output reads on dark and light terminals alike.
//
// # Color Detection
//
// Enabled reports false when NO_COLOR is set (any value, see no-color.org) or
// TERM is "dumb". Callers render plain text in that case.
//
// # Usage Example
//
//	if color.Enabled() {
//	    fmt.Println(color.SuccessStyle.Render("unit tests PASSED"))
//	}
package color
