package token

import "liaison/pkg/platform/middleware"

// MiddlewareAdapter exposes the JWT service through the middleware's
// validator interface.
type MiddlewareAdapter struct {
	svc *JWTService
}

func NewMiddlewareAdapter(svc *JWTService) MiddlewareAdapter {
	return MiddlewareAdapter{svc: svc}
}

func (a MiddlewareAdapter) ValidateToken(tokenString string) (middleware.OrgClaims, error) {
	claims, err := a.svc.ValidateToken(tokenString)
	if err != nil {
		return middleware.OrgClaims{}, err
	}
	return middleware.OrgClaims{OrgID: claims.OrgID}, nil
}
