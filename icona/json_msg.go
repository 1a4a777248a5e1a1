package icona

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Structured-text message identifiers accepted by the device.
const (
	MessageAccess           = "access"
	MessageGetConfiguration = "get-configuration"

	MessageTypeRequest  = "request"
	MessageTypeResponse = "response"

	// AddressBooksAll requests every address book in the configuration.
	AddressBooksAll = "all"
)

// JSON message-id values. The device expects these per operation, they are not the channel type codes.
const (
	AccessMessageID        = 2
	ConfigurationMessageID = 3
)

// AccessRequest authenticates the session with a user token.
type AccessRequest struct {
	Message     string `json:"message"`
	UserToken   string `json:"user-token"`
	MessageType string `json:"message-type"`
	MessageID   int    `json:"message-id"`
}

// NewAccessRequest creates an access request for token.
func NewAccessRequest(token string) AccessRequest {
	return AccessRequest{
		Message:     MessageAccess,
		UserToken:   token,
		MessageType: MessageTypeRequest,
		MessageID:   AccessMessageID,
	}
}

// ConfigurationRequest asks for the device configuration.
type ConfigurationRequest struct {
	Message      string `json:"message"`
	AddressBooks string `json:"addressbooks"`
	MessageType  string `json:"message-type"`
	MessageID    int    `json:"message-id"`
}

// NewConfigurationRequest creates a get-configuration request for the given address books.
func NewConfigurationRequest(addressBooks string) ConfigurationRequest {
	if addressBooks == "" {
		addressBooks = AddressBooksAll
	}

	return ConfigurationRequest{
		Message:      MessageGetConfiguration,
		AddressBooks: addressBooks,
		MessageType:  MessageTypeRequest,
		MessageID:    ConfigurationMessageID,
	}
}

// Response holds the fields common to every structured-text response.
type Response struct {
	Message      string `json:"message,omitempty"`
	MessageType  string `json:"message-type,omitempty"`
	MessageID    *int   `json:"message-id,omitempty"`
	ResponseCode *int   `json:"response-code,omitempty"`
}

// Configuration is the get-configuration response.
type Configuration struct {
	Response
	VIP *VIP `json:"vip,omitempty"`
}

// VIP is the configuration block of the intercom unit.
type VIP struct {
	AptAddress     Text            `json:"apt-address"`
	AptSubaddress  Text            `json:"apt-subaddress,omitempty"`
	UserParameters *UserParameters `json:"user-parameters,omitempty"`
}

// UserParameters holds the user-facing parts of the VIP configuration.
type UserParameters struct {
	OpenDoorAddressBook []AddressBookEntry `json:"opendoor-address-book,omitempty"`
}

// AddressBookEntry is one door of the open-door address book.
type AddressBookEntry struct {
	Name        Text `json:"name"`
	AptAddress  Text `json:"apt-address"`
	OutputIndex Text `json:"output-index"`
}

// Actuators returns the open-door address book as actuator descriptors, in device order.
func (c *Configuration) Actuators() []Actuator {
	if c == nil || c.VIP == nil || c.VIP.UserParameters == nil {
		return []Actuator{}
	}

	book := c.VIP.UserParameters.OpenDoorAddressBook
	result := make([]Actuator, 0, len(book))
	for _, entry := range book {
		result = append(result, Actuator{
			Name:             string(entry.Name),
			ApartmentAddress: string(entry.AptAddress),
			OutputIndex:      string(entry.OutputIndex),
		})
	}

	return result
}

// Text is a string field that also accepts a JSON number, firmware versions differ in quoting.
type Text string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*t = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return desyncf("expect string or number, got %s", data)
		}
		if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
			return desyncf("invalid number %s", data)
		}
		*t = Text(n.String())
		return nil
	}
}

// EncodeRequest marshals a structured-text request into a frame body.
func EncodeRequest(req any) ([]byte, error) {
	return json.Marshal(req)
}

// DecodeResponse decodes a structured-text response body into out.
//
// It fails with ErrProtocolDesync when the body isn't a JSON object, doesn't match the shape of out,
// or isn't marked as a response.
func DecodeResponse(body []byte, out any) error {
	if len(body) == 0 || body[0] != '{' {
		return desyncf("expect structured-text body, got %d binary bytes", len(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return desyncf("decode response: %v", err)
	}

	var header *Response
	switch v := out.(type) {
	case *Response:
		header = v
	case *Configuration:
		header = &v.Response
	}
	if header != nil && header.MessageType != "" && header.MessageType != MessageTypeResponse {
		return desyncf("unexpected message-type %q", header.MessageType)
	}

	return nil
}

// DecodeAccessResponse decodes the access response and returns its status code.
func DecodeAccessResponse(body []byte) (AuthStatus, error) {
	var rsp Response
	if err := DecodeResponse(body, &rsp); err != nil {
		return 0, err
	}
	if rsp.ResponseCode == nil {
		return 0, desyncf("access response without response-code")
	}

	return AuthStatus(*rsp.ResponseCode), nil
}

// DecodeConfiguration decodes the get-configuration response.
func DecodeConfiguration(body []byte) (*Configuration, error) {
	cfg := &Configuration{}
	if err := DecodeResponse(body, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
