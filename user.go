/************************************************************************************
 *
 * perch, a minimal Go client for the Discord gateway
 *
 * SPDX-License-Identifier: BSD-3-Clause
 *
 ************************************************************************************/

package perch

// User is the bot's own identity, as carried by the Ready dispatch event.
//
// perch treats every other entity payload opaquely (spec.md §1). The core
// decodes User as part of ReadyPayload but does not store it or pass it to
// handlers; a handler that needs the bot's identity decodes it from the
// READY event's Raw payload.
type User struct {
	ID            Snowflake `json:"id"`
	Username      string    `json:"username"`
	Discriminator string    `json:"discriminator"`
	Avatar        *string   `json:"avatar"`
	Bot           bool      `json:"bot"`
}
