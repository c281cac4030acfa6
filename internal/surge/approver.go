package surge

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/tradekit/autotrader/internal/types"
)

// HTTPApprover posts the full candidate to an external decision endpoint and
// reads back {"approve": true|false}. Any transport or decode failure is a
// rejection; the pipeline's approval timeout bounds the round trip.
type HTTPApprover struct {
	URL    string
	Client *http.Client
}

type approvalReply struct {
	Approve bool `json:"approve"`
}

func (a HTTPApprover) Approve(c types.SurgeCandidate) bool {
	body, err := json.Marshal(c)
	if err != nil {
		return false
	}

	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Post(a.URL, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Warn().Err(err).Str("symbol", c.Symbol).Msg("external approval request failed")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn().Int("status", resp.StatusCode).Str("symbol", c.Symbol).
			Msg("external approval endpoint returned non-OK status")
		return false
	}

	var reply approvalReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		log.Warn().Err(err).Str("symbol", c.Symbol).Msg("external approval reply malformed")
		return false
	}
	return reply.Approve
}
