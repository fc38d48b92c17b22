// Package protocol defines the JSON messages exchanged between a wallet
// session and the directive relay over a websocket.
//
// Every frame is a JSON object with a "type" discriminant. Directives flow
// from the server to the wallet, acknowledgements and registration flow back.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type is the wire discriminant of a message.
type Type string

// Message types.
const (
	TypeRegister       Type = "register"
	TypeSignMessage    Type = "sign_message"
	TypeLockBonk       Type = "lock_bonk"
	TypeClaimBonk      Type = "claim_bonk"
	TypeLockTxSuccess  Type = "lock_tx_success"
	TypeClaimTxSuccess Type = "claim_tx_success"
)

// ErrUnknownType is returned when a frame carries an unrecognized type.
var ErrUnknownType = errors.New("unknown message type")

// Message is one of the six protocol messages.
// The set is closed: only types in this package implement it.
type Message interface {
	Type() Type
	isMessage()
}

// Register announces the wallet that owns the socket. Client to server.
type Register struct {
	Wallet string `json:"wallet"`
}

// SignMessage asks the wallet to sign an arbitrary message. Server to client.
type SignMessage struct {
	Message string `json:"message"`
}

// LockBonk carries one base64 serialized transaction to sign. Server to client.
type LockBonk struct {
	Transaction string `json:"transaction"`
}

// ClaimBonk carries a batch of base64 serialized transactions. Server to client.
type ClaimBonk struct {
	Transactions []string `json:"transaction"`
}

// LockTxSuccess acknowledges a signed LockBonk transaction. Client to server.
type LockTxSuccess struct {
	Wallet      string `json:"wallet"`
	Transaction Bytes  `json:"transaction"`
}

// ClaimTxSuccess acknowledges a signed ClaimBonk batch. Client to server.
type ClaimTxSuccess struct {
	Wallet       string  `json:"wallet"`
	Transactions []Bytes `json:"transaction"`
}

func (Register) Type() Type       { return TypeRegister }
func (SignMessage) Type() Type    { return TypeSignMessage }
func (LockBonk) Type() Type       { return TypeLockBonk }
func (ClaimBonk) Type() Type      { return TypeClaimBonk }
func (LockTxSuccess) Type() Type  { return TypeLockTxSuccess }
func (ClaimTxSuccess) Type() Type { return TypeClaimTxSuccess }

func (Register) isMessage()       {}
func (SignMessage) isMessage()    {}
func (LockBonk) isMessage()       {}
func (ClaimBonk) isMessage()      {}
func (LockTxSuccess) isMessage()  {}
func (ClaimTxSuccess) isMessage() {}

// IsDirective reports whether t flows from server to wallet.
func (t Type) IsDirective() bool {
	switch t {
	case TypeSignMessage, TypeLockBonk, TypeClaimBonk:
		return true
	}
	return false
}

// Encode serializes msg with its type discriminant.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("encode: nil message")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Type(), err)
	}

	// Splice the discriminant in front of the struct fields.
	typeField, err := json.Marshal(msg.Type())
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Type(), err)
	}
	out := make([]byte, 0, len(body)+len(typeField)+9)
	out = append(out, `{"type":`...)
	out = append(out, typeField...)
	if len(body) > 2 {
		out = append(out, ',')
		out = append(out, body[1:]...)
	} else {
		out = append(out, '}')
	}
	return out, nil
}

// Decode parses a frame into its concrete message.
func Decode(data []byte) (Message, error) {
	var envelope struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var msg Message
	var err error
	switch envelope.Type {
	case TypeRegister:
		var m Register
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeSignMessage:
		var m SignMessage
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeLockBonk:
		var m LockBonk
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeClaimBonk:
		var m ClaimBonk
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeLockTxSuccess:
		var m LockTxSuccess
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeClaimTxSuccess:
		var m ClaimTxSuccess
		err = json.Unmarshal(data, &m)
		msg = m
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, envelope.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", envelope.Type, err)
	}
	return msg, nil
}
