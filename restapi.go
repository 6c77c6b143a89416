/************************************************************************************
 *
 * perch, a minimal Go client for the Discord gateway
 *
 * SPDX-License-Identifier: BSD-3-Clause
 *
 ************************************************************************************/

package perch

import (
	"context"

	"github.com/bytedance/sonic"
)

var (
	routeGatewayBot = NewRoute("GET", "/gateway/bot")
	routeSelfUser   = NewRoute("GET", "/users/@me")
)

// restApi is the thin, non-generated REST surface perch needs to bootstrap
// a gateway session: gateway metadata and the bot's own identity. Every
// per-entity REST wrapper goda generates (restapi_channels.go,
// restapi_guilds.go, restapi_messages.go, ...) is out of scope (spec.md §1)
// — callers needing those build their own RouteTemplate against HTTPGate
// directly.
//
// Grounded in goda's restapi.go, narrowed to the two calls the rest of
// this package actually drives: ShardSupervisor.AutoSetup's
// FetchGatewayBot call, and FetchSelfUser, which fetches the bot's own User.
// restApi is unexported and Client does not expose it, so FetchSelfUser is
// only callable from inside this package.
type restApi struct {
	gate   *HTTPGate
	logger Logger
}

func newRestApi(gate *HTTPGate, logger Logger) *restApi {
	return &restApi{gate: gate, logger: logger}
}

func (r *restApi) Shutdown() {
	r.gate.Shutdown()
}

// FetchGatewayBot retrieves the recommended shard count and session start
// limit for the client's token.
func (r *restApi) FetchGatewayBot(ctx context.Context) (GatewayBot, error) {
	body, err := r.gate.Do(ctx, routeGatewayBot, nil, nil, "", true, 200)
	if err != nil {
		return GatewayBot{}, err
	}
	var bot GatewayBot
	if err := sonic.Unmarshal(body, &bot); err != nil {
		r.logger.Error("restapi: failed decoding /gateway/bot: " + err.Error())
		return GatewayBot{}, err
	}
	return bot, nil
}

// FetchSelfUser retrieves the bot's own user identity.
func (r *restApi) FetchSelfUser(ctx context.Context) (User, error) {
	body, err := r.gate.Do(ctx, routeSelfUser, nil, nil, "", true, 200)
	if err != nil {
		return User{}, err
	}
	var u User
	if err := sonic.Unmarshal(body, &u); err != nil {
		r.logger.Error("restapi: failed decoding /users/@me: " + err.Error())
		return User{}, err
	}
	return u, nil
}
