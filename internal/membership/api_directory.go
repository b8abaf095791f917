package membership

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rankland/broadcast-hub/internal/core"
)

const apiRequestTimeout = 30 * time.Second

// APIDirectory resolves contests and members against the remote
// ranklist API.
type APIDirectory struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewAPIDirectory(baseURL, token string) *APIDirectory {
	return &APIDirectory{
		baseURL: baseURL,
		token:   token,
		client: &http.Client{
			Timeout: apiRequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        50,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// apiEnvelope is the remote API's uniform response shape.
type apiEnvelope struct {
	Success bool            `json:"success"`
	Code    core.ErrCode    `json:"code"`
	Data    json.RawMessage `json:"data"`
}

func (d *APIDirectory) FindContestByAlias(ctx context.Context, alias string) (*Contest, error) {
	contest := &Contest{}
	err := d.get(ctx, "/getLiveContest", url.Values{"alias": {alias}}, contest)
	if err != nil {
		return nil, err
	}
	return contest, nil
}

func (d *APIDirectory) FindContestMemberByID(ctx context.Context, alias, userID string) (*Member, error) {
	member := &Member{}
	err := d.get(ctx, "/getContestMember", url.Values{"alias": {alias}, "userId": {userID}}, member)
	if err != nil {
		return nil, err
	}
	return member, nil
}

func (d *APIDirectory) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("x-token", d.token)

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("membership: api responded %d", resp.StatusCode)
	}

	envelope := &apiEnvelope{}
	if err := json.NewDecoder(resp.Body).Decode(envelope); err != nil {
		return err
	}
	if !envelope.Success {
		switch envelope.Code {
		case core.LiveContestNotFound, core.LiveContestMemberNotFound:
			return ErrNotFound
		default:
			return fmt.Errorf("membership: api error code %d", envelope.Code)
		}
	}

	return json.Unmarshal(envelope.Data, out)
}
