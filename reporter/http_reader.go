// Reader is a testing facility to read the output of a http reporter.

package reporter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

type HttpReader struct {
	serverIP   string // listen ip
	serverPort string // listen port
}

func NewHttpReader(serverIP string, serverPort string) *HttpReader {
	return &HttpReader{
		serverIP:   serverIP,
		serverPort: serverPort,
	}
}

func (hr *HttpReader) url(route string) string {
	return "http://" + hr.serverIP + ":" + hr.serverPort + route
}

// get fetches route and decodes a 200 answer into out.
func (hr *HttpReader) get(route string, out any) error {
	resp, err := http.Get(hr.url(route))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s: %s", route, resp.Status, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, out)
}

func (hr *HttpReader) GetHello() (string, error) {
	resp, err := http.Get(hr.url(ROUTE_HELLO))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	// Read the response body
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	// Convert the body to a string
	return string(body), nil
}

// GetReleaseStatus returns the status and the tx id of a release ticket.
func (hr *HttpReader) GetReleaseStatus(ticketId string) (string, string, error) {
	var res struct {
		Status string `json:"status"`
		TxId   string `json:"tx_id"`
	}
	err := hr.get("/status/"+url.PathEscape(ticketId), &res)
	return res.Status, res.TxId, err
}

func (hr *HttpReader) GetDepositStatus(btcTxID string) (string, error) {
	var res struct {
		Status string `json:"status"`
	}
	err := hr.get("/deposit/"+url.PathEscape(btcTxID), &res)
	return res.Status, err
}

func (hr *HttpReader) GetCustodyAddress(targetChainId, receiver, token string) (string, error) {
	q := url.Values{}
	q.Set("target_chain_id", targetChainId)
	q.Set("receiver", receiver)
	if token != "" {
		q.Set("token", token)
	}
	var res struct {
		Address string `json:"address"`
	}
	err := hr.get(ROUTE_CUSTODY_ADDRESS+"?"+q.Encode(), &res)
	return res.Address, err
}

func (hr *HttpReader) GetFee(targetChainId string) (uint64, error) {
	var res struct {
		Fee uint64 `json:"fee"`
	}
	err := hr.get(ROUTE_FEE+"?target_chain_id="+url.QueryEscape(targetChainId), &res)
	return res.Fee, err
}

// GenerateTicket announces a deposit made to a custody address.
func (hr *HttpReader) GenerateTicket(args any) error {
	body, err := json.Marshal(args)
	if err != nil {
		return err
	}
	resp, err := http.Post(hr.url(ROUTE_GENERATE_TICKET), "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: %s: %s", ROUTE_GENERATE_TICKET, resp.Status, strings.TrimSpace(string(msg)))
	}
	return nil
}
