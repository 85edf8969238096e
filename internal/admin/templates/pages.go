package templates

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

// LoginData renders the sign-in form.
type LoginData struct {
	Action    string
	SignUpURL string
	Email     string
	Remember  bool
	Error     string
	Message   string
	CSRFToken string
}

// LoginPage renders the sign-in form. htmx submissions swap the form in place.
func LoginPage(data LoginData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.raw(`<section class="auth"><h1>Entrar</h1>`)
		h.render(ctx, alert("info", data.Message))
		h.render(ctx, alert("error", data.Error))
		h.rawf(`<form id="login-form" method="post" action="%[1]s" hx-post="%[1]s" hx-target="#login-form" hx-swap="outerHTML">`, templ.EscapeString(data.Action))
		h.render(ctx, csrfField(data.CSRFToken))
		h.render(ctx, input("email", "E-mail", "email", data.Email, true))
		h.render(ctx, input("password", "Senha", "password", "", true))
		h.raw(`<label class="remember"><input type="checkbox" name="remember" value="1"`)
		if data.Remember {
			h.raw(` checked`)
		}
		h.raw(`> Manter conectado</label><button type="submit">Entrar</button></form>`)
		if data.SignUpURL != "" {
			h.rawf(`<p class="alt">Não tem conta? <a href="%s">Cadastre-se</a></p>`, templ.EscapeString(data.SignUpURL))
		}
		h.raw(`</section>`)
		return h.err
	})
}

// RoleOption is one selectable role on the sign-up form.
type RoleOption struct {
	Value    string
	Label    string
	Selected bool
}

// SignUpData renders the registration form.
type SignUpData struct {
	Action    string
	LoginURL  string
	Email     string
	FullName  string
	Roles     []RoleOption
	Error     string
	CSRFToken string
}

// SignUpPage renders the registration form.
func SignUpPage(data SignUpData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.raw(`<section class="auth"><h1>Criar conta</h1>`)
		h.render(ctx, alert("error", data.Error))
		h.rawf(`<form id="signup-form" method="post" action="%s">`, templ.EscapeString(data.Action))
		h.render(ctx, csrfField(data.CSRFToken))
		h.render(ctx, input("full_name", "Nome completo", "text", data.FullName, true))
		h.render(ctx, input("email", "E-mail", "email", data.Email, true))
		h.render(ctx, input("password", "Senha", "password", "", true))
		h.raw(`<label for="role">Perfil</label><select id="role" name="role">`)
		for _, opt := range data.Roles {
			h.rawf(`<option value="%s"`, templ.EscapeString(opt.Value))
			if opt.Selected {
				h.raw(` selected`)
			}
			h.raw(`>`)
			h.text(opt.Label)
			h.raw(`</option>`)
		}
		h.raw(`</select><button type="submit">Cadastrar</button></form>`)
		h.rawf(`<p class="alt">Já tem conta? <a href="%s">Entrar</a></p></section>`, templ.EscapeString(data.LoginURL))
		return h.err
	})
}

// CompanySetupData renders the company registration form for tenant admins.
type CompanySetupData struct {
	Action       string
	Name         string
	CNPJ         string
	Phone        string
	Email        string
	Address      string
	IsIndividual bool
	Error        string
	CSRFToken    string
}

// CompanySetupPage renders the company registration form.
func CompanySetupPage(data CompanySetupData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.raw(`<section class="setup"><h1>Cadastre sua empresa</h1>`)
		h.raw(`<p>Para acessar o painel administrativo, vincule sua conta a uma empresa.</p>`)
		h.render(ctx, alert("error", data.Error))
		h.rawf(`<form id="company-form" method="post" action="%s">`, templ.EscapeString(data.Action))
		h.render(ctx, csrfField(data.CSRFToken))
		h.render(ctx, input("name", "Nome da empresa", "text", data.Name, true))
		h.render(ctx, input("cnpj", "CNPJ", "text", data.CNPJ, false))
		h.render(ctx, input("phone", "Telefone", "tel", data.Phone, false))
		h.render(ctx, input("email", "E-mail", "email", data.Email, false))
		h.render(ctx, input("address", "Endereço", "text", data.Address, false))
		h.raw(`<label><input type="checkbox" name="is_individual" value="1"`)
		if data.IsIndividual {
			h.raw(` checked`)
		}
		h.raw(`> Sou profissional autônomo</label><button type="submit">Salvar</button></form></section>`)
		return h.err
	})
}

// DashboardData renders a role landing page.
type DashboardData struct {
	Heading   string
	Greeting  string
	RoleLabel string
	Company   string
	Links     []Link
	Degraded  bool
}

// Link is a navigation entry.
type Link struct {
	Label string
	URL   string
}

// DashboardPage renders a role landing page.
func DashboardPage(data DashboardData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.raw(`<section class="dashboard"><h1>`)
		h.text(data.Heading)
		h.raw(`</h1><p class="greeting">`)
		h.text(data.Greeting)
		h.raw(`</p><dl><dt>Perfil</dt><dd class="role">`)
		h.text(data.RoleLabel)
		h.raw(`</dd>`)
		if data.Company != "" {
			h.raw(`<dt>Empresa</dt><dd class="company">`)
			h.text(data.Company)
			h.raw(`</dd>`)
		}
		h.raw(`</dl>`)
		if data.Degraded {
			h.render(ctx, alert("warning", "Não foi possível confirmar todas as informações do seu perfil. Algumas opções podem estar indisponíveis."))
		}
		if len(data.Links) > 0 {
			h.raw(`<nav><ul>`)
			for _, link := range data.Links {
				h.rawf(`<li><a href="%s">`, templ.EscapeString(link.URL))
				h.text(link.Label)
				h.raw(`</a></li>`)
			}
			h.raw(`</ul></nav>`)
		}
		h.raw(`</section>`)
		return h.err
	})
}

// ProfileData renders the profile editor.
type ProfileData struct {
	Action    string
	FullName  string
	Email     string
	Phone     string
	CPF       string
	AvatarURL string
	Saved     bool
	Error     string
	CSRFToken string
}

// ProfilePage renders the profile editor.
func ProfilePage(data ProfileData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.raw(`<section class="profile"><h1>Meu perfil</h1>`)
		if data.Saved {
			h.render(ctx, alert("success", "Perfil atualizado."))
		}
		h.render(ctx, alert("error", data.Error))
		h.rawf(`<form id="profile-form" method="post" action="%s">`, templ.EscapeString(data.Action))
		h.render(ctx, csrfField(data.CSRFToken))
		h.raw(`<p class="email">`)
		h.text(data.Email)
		h.raw(`</p>`)
		h.render(ctx, input("full_name", "Nome completo", "text", data.FullName, true))
		h.render(ctx, input("phone", "Telefone", "tel", data.Phone, false))
		h.render(ctx, input("cpf", "CPF", "text", data.CPF, false))
		h.render(ctx, input("avatar_url", "Foto (URL)", "url", data.AvatarURL, false))
		h.raw(`<button type="submit">Salvar</button></form></section>`)
		return h.err
	})
}

// CheckingPage is shown while the session is still resolving. It reloads itself shortly.
func CheckingPage() templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := io.WriteString(w, `<section class="checking" aria-busy="true"><meta http-equiv="refresh" content="1"><p>Verificando acesso...</p></section>`)
		return err
	})
}

// ErrorPage renders a plain message.
func ErrorPage(heading, message string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.raw(`<section class="error"><h1>`)
		h.text(heading)
		h.raw(`</h1><p>`)
		h.text(message)
		h.raw(`</p></section>`)
		return h.err
	})
}
