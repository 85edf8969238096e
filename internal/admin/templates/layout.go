// Package templates renders the console's server-side pages as templ components.
package templates

import (
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"
)

const appName = "Vistoria Pro"

// LayoutData is shared by every full page.
type LayoutData struct {
	Title     string
	CSRFToken string
	User      *UserBadge
	Flash     string
}

// UserBadge is the principal summary shown in the top bar.
type UserBadge struct {
	Name      string
	Email     string
	RoleLabel string
	LogoutURL string
}

// htmlWriter accumulates the first write error so components read linearly.
type htmlWriter struct {
	w   io.Writer
	err error
}

func (h *htmlWriter) raw(s string) {
	if h.err != nil {
		return
	}
	_, h.err = io.WriteString(h.w, s)
}

func (h *htmlWriter) rawf(format string, args ...any) {
	if h.err != nil {
		return
	}
	_, h.err = fmt.Fprintf(h.w, format, args...)
}

func (h *htmlWriter) text(s string) {
	h.raw(templ.EscapeString(s))
}

func (h *htmlWriter) render(ctx context.Context, c templ.Component) {
	if h.err != nil || c == nil {
		return
	}
	h.err = c.Render(ctx, h.w)
}

// Page wraps body in the document shell.
func Page(data LayoutData, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		title := appName
		if data.Title != "" {
			title = data.Title + " | " + appName
		}
		h.raw(`<!DOCTYPE html><html lang="pt-BR"><head><meta charset="utf-8">`)
		h.raw(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
		h.rawf(`<meta name="csrf-token" content="%s">`, templ.EscapeString(data.CSRFToken))
		h.raw(`<title>`)
		h.text(title)
		h.raw(`</title><script src="https://unpkg.com/htmx.org@1.9.12" defer></script></head>`)
		h.rawf(`<body hx-headers='{"X-CSRF-Token": "%s"}'>`, templ.EscapeString(data.CSRFToken))
		if data.User != nil {
			h.render(ctx, topbar(*data.User, data.CSRFToken))
		}
		if data.Flash != "" {
			h.raw(`<div class="flash" role="status">`)
			h.text(data.Flash)
			h.raw(`</div>`)
		}
		h.raw(`<main>`)
		h.render(ctx, body)
		h.raw(`</main></body></html>`)
		return h.err
	})
}

func topbar(user UserBadge, csrf string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.raw(`<header class="topbar"><span class="brand">` + appName + `</span>`)
		h.raw(`<span class="user" data-role="`)
		h.text(user.RoleLabel)
		h.raw(`">`)
		name := user.Name
		if name == "" {
			name = user.Email
		}
		h.text(name)
		h.raw(`</span>`)
		h.rawf(`<form method="post" action="%s" class="logout">`, templ.EscapeString(user.LogoutURL))
		h.render(ctx, csrfField(csrf))
		h.raw(`<button type="submit">Sair</button></form></header>`)
		return h.err
	})
}

func csrfField(token string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, `<input type="hidden" name="csrf_token" value="%s">`, templ.EscapeString(token))
		return err
	})
}

func alert(kind, msg string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		if msg == "" {
			return nil
		}
		h := &htmlWriter{w: w}
		h.rawf(`<div class="alert alert-%s" role="alert">`, kind)
		h.text(msg)
		h.raw(`</div>`)
		return h.err
	})
}

func input(name, label, kind, value string, required bool) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.rawf(`<label for="%[1]s">`, name)
		h.text(label)
		h.rawf(`</label><input id="%[1]s" name="%[1]s" type="%[2]s" value="%[3]s"`, name, kind, templ.EscapeString(value))
		if required {
			h.raw(` required`)
		}
		h.raw(`>`)
		return h.err
	})
}
