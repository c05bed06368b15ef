package rpc

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// authorizeAdmin validates the bearer token on admin requests. Tokens are
// HS256-signed against the configured secret; expiry is enforced when the
// token carries an exp claim.
func (s *Server) authorizeAdmin(r *http.Request) error {
	if len(s.jwtSecret) == 0 {
		return fmt.Errorf("admin surface disabled: no JWT secret configured")
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return fmt.Errorf("missing bearer token")
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return fmt.Errorf("invalid token")
	}
	return nil
}

type setFeeParams struct {
	Caller string `json:"caller"`
	Bps    uint32 `json:"bps"`
}

func (s *Server) handleSetBuyerFee(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if err := s.authorizeAdmin(r); err != nil {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, err.Error(), nil)
		return
	}
	var params setFeeParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddr(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	if err := s.node.SetBuyerFeeBps(caller, params.Bps); err != nil {
		engineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]any{"buyerFeeBps": params.Bps})
}

func (s *Server) handleSetSellerFee(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if err := s.authorizeAdmin(r); err != nil {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, err.Error(), nil)
		return
	}
	var params setFeeParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddr(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	if err := s.node.SetSellerFeeBps(caller, params.Bps); err != nil {
		engineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]any{"sellerFeeBps": params.Bps})
}

type setBlacklistParams struct {
	Caller  string `json:"caller"`
	Address string `json:"address"`
	Flagged bool   `json:"flagged"`
}

func (s *Server) handleSetBlacklist(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if err := s.authorizeAdmin(r); err != nil {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, err.Error(), nil)
		return
	}
	var params setBlacklistParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddr(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	addr, err := parseAddr(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	if err := s.node.SetBlacklisted(caller, addr, params.Flagged); err != nil {
		engineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]any{"address": formatAddr(addr), "blacklisted": params.Flagged})
}
