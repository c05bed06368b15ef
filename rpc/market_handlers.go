package rpc

import (
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"nftmarket/crypto"
	"nftmarket/native/market"
)

func parseAddr(raw string) ([20]byte, error) {
	var out [20]byte
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return out, err
	}
	return addr.Bytes20(), nil
}

// parseToken accepts a bech32 token address, or "native"/empty for the
// native coin.
func parseToken(raw string) ([20]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "native" {
		return market.NativeToken, nil
	}
	return parseAddr(trimmed)
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount must not be empty")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

func formatAddr(addr [20]byte) string {
	return crypto.NewAddress(crypto.MktPrefix, addr[:]).String()
}

func formatToken(token [20]byte) string {
	if token == market.NativeToken {
		return "native"
	}
	return formatAddr(token)
}

// listingPayload is the wire form of a listing record.
type listingPayload struct {
	ID            uint64 `json:"id"`
	Seller        string `json:"seller"`
	AssetSource   string `json:"assetSource"`
	AssetID       uint64 `json:"assetId"`
	Quantity      uint64 `json:"quantity"`
	Kind          string `json:"kind"`
	Price         string `json:"price"`
	PaymentToken  string `json:"paymentToken"`
	SaleType      string `json:"saleType"`
	EndTime       int64  `json:"endTime,omitempty"`
	CreatedAt     int64  `json:"createdAt"`
	Status        string `json:"status"`
	HighestBidder string `json:"highestBidder,omitempty"`
	HighestBid    string `json:"highestBid,omitempty"`
}

func listingPayloadFrom(l *market.Listing) listingPayload {
	payload := listingPayload{
		ID:           l.ID,
		Seller:       formatAddr(l.Seller),
		AssetSource:  formatAddr(l.AssetSource),
		AssetID:      l.AssetID,
		Quantity:     l.Quantity,
		Kind:         l.Kind.String(),
		PaymentToken: formatToken(l.PaymentToken),
		SaleType:     l.Sale.String(),
		EndTime:      l.EndTime,
		CreatedAt:    l.CreatedAt,
		Status:       l.Status.String(),
	}
	if l.Price != nil {
		payload.Price = l.Price.String()
	}
	if l.HasBid() {
		payload.HighestBidder = formatAddr(l.HighestBidder)
		payload.HighestBid = l.HighestBid.String()
	}
	return payload
}

type listNFTParams struct {
	Seller       string `json:"seller"`
	AssetSource  string `json:"assetSource"`
	AssetID      uint64 `json:"assetId"`
	Quantity     uint64 `json:"quantity"`
	Price        string `json:"price"`
	PaymentToken string `json:"paymentToken"`
	SaleType     string `json:"saleType"`
	Duration     int64  `json:"duration,omitempty"`
}

func (s *Server) handleListNFT(w http.ResponseWriter, req *RPCRequest) {
	var params listNFTParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	seller, err := parseAddr(params.Seller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid seller address", err.Error())
		return
	}
	source, err := parseAddr(params.AssetSource)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid asset source", err.Error())
		return
	}
	price, err := parseAmount(params.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid price", err.Error())
		return
	}
	token, err := parseToken(params.PaymentToken)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payment token", err.Error())
		return
	}
	var sale market.SaleType
	switch params.SaleType {
	case "", "fixed_price":
		sale = market.SaleFixedPrice
	case "auction":
		sale = market.SaleAuction
	default:
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, fmt.Sprintf("unknown sale type %q", params.SaleType), nil)
		return
	}

	listing, err := s.node.CreateListing(seller, source, params.AssetID, params.Quantity, price, token, sale, params.Duration)
	if err != nil {
		engineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, listingPayloadFrom(listing))
}

type buyNFTParams struct {
	ListingID uint64 `json:"listingId"`
	Buyer     string `json:"buyer"`
	Value     string `json:"value,omitempty"`
}

func (s *Server) handleBuyNFT(w http.ResponseWriter, req *RPCRequest) {
	var params buyNFTParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	buyer, err := parseAddr(params.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid buyer address", err.Error())
		return
	}
	var value *big.Int
	if strings.TrimSpace(params.Value) != "" {
		value, err = parseAmount(params.Value)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid value", err.Error())
			return
		}
	}
	if err := s.node.Purchase(params.ListingID, buyer, value); err != nil {
		engineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]any{"status": "sold", "listingId": params.ListingID})
}

type placeBidParams struct {
	ListingID uint64 `json:"listingId"`
	Bidder    string `json:"bidder"`
	Amount    string `json:"amount"`
}

func (s *Server) handlePlaceBid(w http.ResponseWriter, req *RPCRequest) {
	var params placeBidParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	bidder, err := parseAddr(params.Bidder)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid bidder address", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	if err := s.node.PlaceBid(params.ListingID, bidder, amount); err != nil {
		engineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]any{"status": "bid_placed", "listingId": params.ListingID})
}

type finalizeParams struct {
	ListingID uint64 `json:"listingId"`
	Caller    string `json:"caller"`
}

func (s *Server) handleFinalizeAuction(w http.ResponseWriter, req *RPCRequest) {
	var params finalizeParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddr(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	if err := s.node.FinalizeAuction(params.ListingID, caller); err != nil {
		engineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]any{"status": "finalized", "listingId": params.ListingID})
}

func (s *Server) handleWithdrawNFT(w http.ResponseWriter, req *RPCRequest) {
	var params finalizeParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddr(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	if err := s.node.Withdraw(params.ListingID, caller); err != nil {
		engineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]any{"status": "withdrawn", "listingId": params.ListingID})
}

type getListingParams struct {
	ListingID uint64 `json:"listingId"`
}

func (s *Server) handleGetListing(w http.ResponseWriter, req *RPCRequest) {
	var params getListingParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	listing, err := s.node.GetListing(params.ListingID)
	if err != nil {
		engineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, listingPayloadFrom(listing))
}

func (s *Server) handleListListings(w http.ResponseWriter, req *RPCRequest) {
	listings := s.node.Listings()
	payload := make([]listingPayload, 0, len(listings))
	for _, listing := range listings {
		payload = append(payload, listingPayloadFrom(listing))
	}
	writeResult(w, req.ID, payload)
}

func (s *Server) handleListingCounter(w http.ResponseWriter, req *RPCRequest) {
	counter, err := s.node.ListingCounter()
	if err != nil {
		engineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]uint64{"counter": counter})
}

type getBalanceParams struct {
	Address string `json:"address"`
	Token   string `json:"token,omitempty"`
}

func (s *Server) handleGetBalance(w http.ResponseWriter, req *RPCRequest) {
	var params getBalanceParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	addr, err := parseAddr(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	token, err := parseToken(params.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid token", err.Error())
		return
	}
	balance, err := s.node.BalanceOf(token, addr)
	if err != nil {
		engineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{
		"address": formatAddr(addr),
		"token":   formatToken(token),
		"balance": balance.String(),
	})
}

func (s *Server) handleGetFeePolicy(w http.ResponseWriter, req *RPCRequest) {
	policy, err := s.node.FeePolicy()
	if err != nil {
		engineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]any{
		"buyerFeeBps":  policy.BuyerFeeBps,
		"sellerFeeBps": policy.SellerFeeBps,
		"treasury":     formatAddr(policy.Treasury),
	})
}

type isBlacklistedParams struct {
	Address string `json:"address"`
}

func (s *Server) handleIsBlacklisted(w http.ResponseWriter, req *RPCRequest) {
	var params isBlacklistedParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	addr, err := parseAddr(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	flagged, err := s.node.IsBlacklisted(addr)
	if err != nil {
		engineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]any{"address": formatAddr(addr), "blacklisted": flagged})
}
