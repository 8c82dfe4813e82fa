package gateway

import (
	"context"
	"net/http"
	"net/url"

	"castbot/internal/model"
)

type conn struct {
	c  *Client
	id string
}

func (cn *conn) path(suffix string) string {
	return "/v1/sessions/" + url.PathEscape(cn.id) + suffix
}

func (cn *conn) ListCandidates(ctx context.Context) ([]model.Candidate, error) {
	var out struct {
		Dialogs []model.Candidate `json:"dialogs"`
	}
	if err := cn.c.do(ctx, "dialogs", http.MethodGet, cn.path("/dialogs?kind=group"), nil, &out); err != nil {
		return nil, model.Transport("gateway.dialogs", err)
	}
	return out.Dialogs, nil
}

type sendReq struct {
	PeerID int64  `json:"peer_id"`
	Text   string `json:"text"`
}

func (cn *conn) Send(ctx context.Context, targetID int64, text string) error {
	if err := cn.c.do(ctx, "send", http.MethodPost, cn.path("/messages"), sendReq{PeerID: targetID, Text: text}, nil); err != nil {
		return model.Transport("gateway.send", err)
	}
	return nil
}

func (cn *conn) Close(ctx context.Context) error {
	if err := cn.c.do(ctx, "close", http.MethodDelete, cn.path(""), nil, nil); err != nil {
		return model.Transport("gateway.close", err)
	}
	return nil
}
