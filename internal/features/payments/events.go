// Package payments — events.go разбирает JSON событий шлюза.
package payments

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"serotonyl.ru/pumpreels-bot/internal/common"
)

// Event — конверт вебхука: {"eventType": "...", "eventData": {...}}.
type Event struct {
	EventType string          `json:"eventType"`
	EventData json.RawMessage `json:"eventData"`
}

// metaValue принимает значение метаданных и строкой, и числом.
type metaValue string

func (v *metaValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = metaValue(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*v = metaValue(n.String())
	return nil
}

type metadataEntry struct {
	Key   string    `json:"key"`
	Value metaValue `json:"value"`
}

type transactionInfo struct {
	Hash    string          `json:"hash"`
	Network string          `json:"network"`
	Amount  json.RawMessage `json:"amount"`
}

type intentPayload struct {
	CheckoutSessionID string           `json:"checkout_session_id"`
	Metadata          []metadataEntry  `json:"metadata"`
	Transaction       *transactionInfo `json:"transaction"`
}

type confirmationPayload struct {
	TransactionHash   string           `json:"transaction_hash"`
	CheckoutSessionID string           `json:"checkout_session_id"`
	Transaction       *transactionInfo `json:"transaction"`
}

// Intent — разобранное событие создания платежа.
type Intent struct {
	TransactionKey string
	GroupID        string
	Credits        int64
	Hash           string
	Network        string
}

// ConfirmationRequest — разобранное событие подтверждения.
type ConfirmationRequest struct {
	Hash       string
	SessionKey string
}

// ParseEvent разбирает конверт вебхука.
func ParseEvent(raw []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrMalformedEvent, err)
	}
	if ev.EventType == "" {
		return nil, fmt.Errorf("%w: eventType is empty", common.ErrMalformedEvent)
	}
	return &ev, nil
}

// ParseIntent достаёт group_id и credits из метаданных чекаута.
func ParseIntent(data json.RawMessage) (*Intent, error) {
	var p intentPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrMalformedEvent, err)
	}

	in := &Intent{TransactionKey: strings.TrimSpace(p.CheckoutSessionID)}
	if in.TransactionKey == "" {
		return nil, fmt.Errorf("%w: checkout_session_id is missing", common.ErrMalformedEvent)
	}

	var creditsRaw string
	for _, m := range p.Metadata {
		switch m.Key {
		case MetaGroupID:
			in.GroupID = strings.TrimSpace(string(m.Value))
		case MetaCredits:
			creditsRaw = strings.TrimSpace(string(m.Value))
		}
	}
	if in.GroupID == "" {
		return nil, fmt.Errorf("%w: metadata group_id is missing", common.ErrMalformedEvent)
	}
	credits, err := strconv.ParseInt(creditsRaw, 10, 64)
	if err != nil || credits <= 0 {
		return nil, fmt.Errorf("%w: metadata credits must be a positive integer, got %q", common.ErrMalformedEvent, creditsRaw)
	}
	in.Credits = credits

	if p.Transaction != nil {
		in.Hash = strings.TrimSpace(p.Transaction.Hash)
		in.Network = strings.TrimSpace(p.Transaction.Network)
	}
	return in, nil
}

// ParseConfirmation достаёт хеш транзакции (и, если есть, ID сессии).
// Хеш берётся из transaction_hash, а при его отсутствии из transaction.hash.
func ParseConfirmation(data json.RawMessage) (*ConfirmationRequest, error) {
	var p confirmationPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrMalformedEvent, err)
	}

	req := &ConfirmationRequest{
		Hash:       strings.TrimSpace(p.TransactionHash),
		SessionKey: strings.TrimSpace(p.CheckoutSessionID),
	}
	if req.Hash == "" && p.Transaction != nil {
		req.Hash = strings.TrimSpace(p.Transaction.Hash)
	}
	if req.Hash == "" {
		return nil, fmt.Errorf("%w: transaction_hash is missing", common.ErrMalformedEvent)
	}
	return req, nil
}
