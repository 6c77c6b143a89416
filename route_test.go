/************************************************************************************
 *
 * perch, a minimal Go client for the Discord gateway
 *
 * SPDX-License-Identifier: BSD-3-Clause
 *
 ************************************************************************************/

package perch

import "testing"

func TestRouteTemplate_SnowflakeHole(t *testing.T) {
	r := NewRoute("GET", "/guilds/{#guild}/channels")
	path, major := r.Build(RouteArg{Name: "guild", Value: Snowflake(123456789012345678)})
	if path != "/guilds/123456789012345678/channels" {
		t.Fatalf("unexpected path: %s", path)
	}
	if major != "123456789012345678" {
		t.Fatalf("expected major parameter to be captured, got %q", major)
	}
}

func TestRouteTemplate_URLWriteHole(t *testing.T) {
	r := NewRoute("POST", "/webhooks/{#webhook}/{+token}")
	path, major := r.Build(
		RouteArg{Name: "webhook", Value: Snowflake(42)},
		RouteArg{Name: "token", Value: "a b/c"},
	)
	if path != "/webhooks/42/a%20b%2Fc" {
		t.Fatalf("expected percent-encoded token segment, got %s", path)
	}
	if major != "42" {
		t.Fatalf("expected webhook hole to be captured as major param, got %q", major)
	}
}

func TestRouteTemplate_BareHoleNotMajor(t *testing.T) {
	r := NewRoute("GET", "/users/{id}")
	path, major := r.Build(RouteArg{Name: "id", Value: "@me"})
	if path != "/users/@me" {
		t.Fatalf("unexpected path: %s", path)
	}
	if major != "" {
		t.Fatalf("bare holes not named guild/channel/webhook must not become the major parameter, got %q", major)
	}
}

func TestRouteTemplate_TemplateKeyStableAcrossArgs(t *testing.T) {
	r := NewRoute("GET", "/channels/{#channel}/messages")
	k1 := r.TemplateKey()
	r.Build(RouteArg{Name: "channel", Value: Snowflake(1)})
	k2 := r.TemplateKey()
	if k1 != k2 {
		t.Fatal("TemplateKey must not depend on the args passed to Build")
	}
}

func TestRouteTemplate_NoHoles(t *testing.T) {
	r := NewRoute("GET", "/gateway/bot")
	path, major := r.Build()
	if path != "/gateway/bot" {
		t.Fatalf("unexpected path: %s", path)
	}
	if major != "" {
		t.Fatalf("expected no major parameter, got %q", major)
	}
}
