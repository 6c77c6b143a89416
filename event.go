/************************************************************************************
 *
 * perch, a minimal Go client for the Discord gateway
 *
 * SPDX-License-Identifier: BSD-3-Clause
 *
 ************************************************************************************/

package perch

import "encoding/json"

// DispatchedEvent is what every registered handler receives, regardless of
// event name. perch does not decode entity-specific payload shapes itself
// (spec.md §1 Non-goal) — Raw carries the event's untouched "d" field, and
// Decoded carries whatever a caller-supplied DecodeFunc produced for it, or
// nil if none was configured or the decode failed.
type DispatchedEvent struct {
	ShardID int
	Name    string
	Raw     json.RawMessage
	Decoded any
}

// ReadyPayload is the one payload shape perch reads fields from itself,
// since the session state machine needs session_id and resume_gateway_url
// to resume correctly (spec.md §4.4). Handlers that want the rest of the
// Ready payload (guilds, application, bot user) should decode Raw
// themselves or via DecodeFunc.
type ReadyPayload struct {
	SessionID        string `json:"session_id"`
	ResumeGatewayURL string `json:"resume_gateway_url"`
	User             User   `json:"user"`
}
