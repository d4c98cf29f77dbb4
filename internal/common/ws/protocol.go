package ws

import (
	"encoding/json"

	jsoniter "github.com/json-iterator/go"

	"github.com/G-Research/conduit/internal/common/conduiterrors"
)

var jsonConfig = jsoniter.ConfigCompatibleWithStandardLibrary

// Request is the envelope of every message a client sends.
type Request struct {
	Method uint32          `json:"method"`
	Seq    uint32          `json:"seq"`
	Params json.RawMessage `json:"params,omitempty"`
}

const (
	ImmediateResponseType = "immediate"
	ErrorResponseType     = "error"
)

// Response answers one Request.
type Response struct {
	Type   string             `json:"type"`
	Method uint32             `json:"method"`
	Seq    uint32             `json:"seq"`
	Code   conduiterrors.Code `json:"code,omitempty"`
	Reason string             `json:"reason,omitempty"`
	Data   interface{}        `json:"data,omitempty"`
}

func immediateResponse(req Request, data interface{}) *Response {
	return &Response{Type: ImmediateResponseType, Method: req.Method, Seq: req.Seq, Data: data}
}

func errorResponse(req Request, err error) *Response {
	return &Response{
		Type:   ErrorResponseType,
		Method: req.Method,
		Seq:    req.Seq,
		Code:   conduiterrors.CodeFromError(err),
		Reason: err.Error(),
	}
}
