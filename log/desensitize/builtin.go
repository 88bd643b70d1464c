package desensitize

const mask = "******"

var (
	AccessTokenRule  = MustNewFieldRule("access_token", "access_token", mask)
	RefreshTokenRule = MustNewFieldRule("refresh_token", "refresh_token", mask)
	IDTokenRule      = MustNewFieldRule("id_token", "id_token", mask)
	ClientSecretRule = MustNewFieldRule("client_secret", "client_secret", mask)
	PasswordRule     = MustNewFieldRule("password", "password", mask)

	// BearerRule masks credentials in Authorization header values.
	BearerRule = MustNewContentRule("bearer", `(?i)(bearer\s+)[A-Za-z0-9._~+/=-]+`, "${1}"+mask)

	// JWTRule keeps the header segment of a compact JWT and drops the rest.
	JWTRule = MustNewContentRule("jwt", `(eyJ[A-Za-z0-9_-]*)\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]*`, "${1}."+mask)
)

// BuiltinRules returns the credential rules, field rules first.
func BuiltinRules() []Rule {
	return []Rule{
		AccessTokenRule,
		RefreshTokenRule,
		IDTokenRule,
		ClientSecretRule,
		PasswordRule,
		BearerRule,
		JWTRule,
	}
}
