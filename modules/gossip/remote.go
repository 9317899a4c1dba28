package gossip

// remote.go implements the RemoteChain interface over the pull RPC surface a
// peer node exposes: GET /rpc/getHead and GET /rpc/getBlocks?from=&to=.

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/oib/AITBC-sub002/modules"
	"github.com/oib/AITBC-sub002/types"
)

// An HTTPRemote is a RemoteChain over a peer's HTTP RPC.
type HTTPRemote struct {
	baseURL string
	client  *http.Client
}

// NewHTTPRemote returns a RemoteChain client for the peer at baseURL.
func NewHTTPRemote(baseURL string) *HTTPRemote {
	return &HTTPRemote{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Head implements modules.RemoteChain.
func (r *HTTPRemote) Head() (modules.ChainInfo, error) {
	var info modules.ChainInfo
	err := r.getJSON(r.baseURL+"/rpc/getHead", &info)
	return info, err
}

// BlocksRange implements modules.RemoteChain.
func (r *HTTPRemote) BlocksRange(from, to types.BlockHeight) ([]types.Block, error) {
	var body struct {
		Blocks []types.Block `json:"blocks"`
	}
	url := fmt.Sprintf("%s/rpc/getBlocks?from=%d&to=%d", r.baseURL, from, to)
	err := r.getJSON(url, &body)
	return body.Blocks, err
}

func (r *HTTPRemote) getJSON(url string, dst interface{}) error {
	resp, err := r.client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("remote returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}
