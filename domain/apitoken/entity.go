// Package apitoken mints and revokes the caller-issued credentials that
// pkg/auth's middleware validates against on every Queue API request. It
// owns the write side of api_tokens; pkg/auth owns the read side (the
// hash-lookup the middleware performs on each request never imports this
// package, keeping the request's hot path free of the minting dependency
// graph).
package apitoken

import (
	"time"

	"github.com/uptrace/bun"
)

// ApiToken is a caller credential scoped to exactly one project at mint
// time (§6's Authorization contract relies on this: a token never needs a
// second header to say which project it authenticates against).
type ApiToken struct {
	bun.BaseModel `bun:"table:api_tokens,alias:at"`

	ID        string     `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	ProjectID string     `bun:"project_id,notnull,type:uuid" json:"projectId"`
	TokenHash string     `bun:"token_hash,notnull,unique" json:"-"`
	Scopes    []string   `bun:"scopes,array,notnull" json:"scopes"`
	RevokedAt *time.Time `bun:"revoked_at" json:"revokedAt,omitempty"`
	CreatedAt time.Time  `bun:"created_at,notnull,default:now()" json:"createdAt"`
}

// IsRevoked reports whether the token has been revoked.
func (t *ApiToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// ApiTokenDTO is the token shape returned by list/get. The hash is never
// serialized, and the plaintext token is never persisted at all.
type ApiTokenDTO struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"projectId"`
	Scopes    []string   `json:"scopes"`
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// ToDTO converts the persisted token into its public shape.
func (t *ApiToken) ToDTO() ApiTokenDTO {
	return ApiTokenDTO{
		ID:        t.ID,
		ProjectID: t.ProjectID,
		Scopes:    t.Scopes,
		RevokedAt: t.RevokedAt,
		CreatedAt: t.CreatedAt,
	}
}

// CreateApiTokenResponseDTO is returned exactly once, at creation time: the
// only moment the plaintext token value is ever visible to the caller.
type CreateApiTokenResponseDTO struct {
	ApiTokenDTO
	Token string `json:"token"`
}

// CreateApiTokenRequest is the body of POST /api/projects/:projectId/tokens.
type CreateApiTokenRequest struct {
	Scopes []string `json:"scopes"`
}

// ValidScopes are the caller-identity scopes the Queue API's Authorization
// contract recognizes. The Queue API routes enforce them per route
// (domain/queue's requireScope), and they are validated at mint time so a
// caller can't embed a typo'd scope that would silently act as
// "no access".
var ValidScopes = []string{"queue:read", "queue:write", "queue:admin"}
