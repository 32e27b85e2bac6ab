// ABOUTME: Output helpers for the admin CLI
// ABOUTME: Renders results as aligned tables or, with --json, as indented JSON

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/passkey-gateway/internal/apikey"
	"github.com/2389/passkey-gateway/internal/store"
)

func (a *app) printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func table(w io.Writer, header string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, header)
	for _, r := range rows {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	return tw.Flush()
}

func success(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, color.GreenString("✓ ")+fmt.Sprintf(format, args...))
}

func featureList(f store.Features) string {
	var on []string
	if f.EventLogging {
		on = append(on, "event_logging")
	}
	if f.AllowAttestation {
		on = append(on, "allow_attestation")
	}
	if f.GenerateSignInToken {
		on = append(on, "generate_sign_in_token")
	}
	if len(on) == 0 {
		return "-"
	}
	return strings.Join(on, ",")
}

func scopeList(scopes []apikey.Scope) string {
	if len(scopes) == 0 {
		return "-"
	}
	parts := make([]string, len(scopes))
	for i, s := range scopes {
		parts[i] = string(s)
	}
	return strings.Join(parts, ",")
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// keyView is the JSON form of an API key. Key is only set right after creation.
type keyView struct {
	ID             string         `json:"id"`
	Tenant         string         `json:"tenant"`
	Kind           apikey.Kind    `json:"kind"`
	AbbreviatedKey string         `json:"abbreviated_key"`
	Scopes         []apikey.Scope `json:"scopes"`
	Locked         bool           `json:"locked"`
	CreatedAt      time.Time      `json:"created_at"`
	Key            string         `json:"key,omitempty"`
}

func newKeyView(k *apikey.ApiKey) keyView {
	return keyView{
		ID:             k.ID,
		Tenant:         k.Tenant,
		Kind:           k.Kind,
		AbbreviatedKey: k.AbbreviatedKey,
		Scopes:         k.Scopes,
		Locked:         k.IsLocked,
		CreatedAt:      k.CreatedAt,
	}
}

func (a *app) printKeys(w io.Writer, keys []*apikey.ApiKey) error {
	views := make([]keyView, len(keys))
	for i, k := range keys {
		views[i] = newKeyView(k)
	}
	if a.jsonOutput {
		return a.printJSON(w, views)
	}
	rows := make([][]string, 0, len(views))
	for _, v := range views {
		state := "active"
		if v.Locked {
			state = "locked"
		}
		rows = append(rows, []string{v.ID, string(v.Kind), v.AbbreviatedKey, scopeList(v.Scopes), state, stamp(v.CreatedAt)})
	}
	return table(w, "ID\tKIND\tKEY\tSCOPES\tSTATE\tCREATED", rows)
}
