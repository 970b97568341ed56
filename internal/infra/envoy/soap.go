package envoy

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/attpc/conductor/internal/domain/daq"
)

// The control servers speak SOAP 1.1 over HTTP with a fixed envelope.
const soapHeader = `<?xml version="1.0" encoding="UTF-8"?>
<SOAP-ENV:Envelope
	xmlns:SOAP-ENV="http://schemas.xmlsoap.org/soap/envelope/"
	xmlns:SOAP-ENC="http://schemas.xmlsoap.org/soap/encoding/"
	xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"
	xmlns:xsd="http://www.w3.org/2001/XMLSchema"
	xmlns="urn:ecc">
<SOAP-ENV:Body>
`

const soapFooter = `
</SOAP-ENV:Body>
</SOAP-ENV:Envelope>
`

// ErrMalformedResponse is returned when a control server's reply is missing
// the mandatory error-code field or carries a non-numeric value where a
// number is required.
var ErrMalformedResponse = errors.New("malformed control server response")

// composeOperationRequest renders the SOAP request for a transition. Every
// transition request carries the configuration id and the data-link table;
// the server picks out the sub-configuration matching the operation.
func composeOperationRequest(cfg ModuleConfig, op daq.ControlOperation) string {
	return fmt.Sprintf("%s<%s>\n%s%s</%s>\n%s",
		soapHeader, op, cfg.configBody(), cfg.dataLinkBody(), op, soapFooter)
}

// composeStatusRequest renders the SOAP request for a status query.
func composeStatusRequest() string {
	return fmt.Sprintf("%s<GetState>\n</GetState>\n%s", soapHeader, soapFooter)
}

// soapFields walks the response envelope and collects the text content of
// every leaf element keyed by local name. The servers emit flat response
// bodies, so a name -> text map captures everything we need without
// depending on the exact namespace or element ordering.
func soapFields(r io.Reader) (map[string]string, error) {
	fields := make(map[string]string)
	dec := xml.NewDecoder(r)

	var current string
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			current = t.Name.Local
		case xml.CharData:
			if text := strings.TrimSpace(string(t)); text != "" && current != "" {
				fields[current] = text
			}
		case xml.EndElement:
			current = ""
		}
	}

	return fields, nil
}

func fieldInt32(fields map[string]string, name string) (int32, error) {
	raw, ok := fields[name]
	if !ok {
		return 0, fmt.Errorf("%w: missing %s", ErrMalformedResponse, name)
	}
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q is not numeric", ErrMalformedResponse, name, raw)
	}
	return int32(v), nil
}

// parseOperationResponse decodes a transition reply. The error code is
// mandatory; the message and free text are optional.
func parseOperationResponse(r io.Reader) (daq.OperationResult, error) {
	fields, err := soapFields(r)
	if err != nil {
		return daq.OperationResult{}, err
	}

	code, err := fieldInt32(fields, "ErrorCode")
	if err != nil {
		return daq.OperationResult{}, err
	}

	return daq.OperationResult{
		ErrorCode:    code,
		ErrorMessage: fields["ErrorMessage"],
		Text:         fields["Text"],
	}, nil
}

// parseStatusResponse decodes a status reply. Error code, state, and
// transition are all mandatory.
func parseStatusResponse(r io.Reader) (daq.ModuleStatus, error) {
	fields, err := soapFields(r)
	if err != nil {
		return daq.ModuleStatus{}, err
	}

	code, err := fieldInt32(fields, "ErrorCode")
	if err != nil {
		return daq.ModuleStatus{}, err
	}
	state, err := fieldInt32(fields, "State")
	if err != nil {
		return daq.ModuleStatus{}, err
	}
	transition, err := fieldInt32(fields, "Transition")
	if err != nil {
		return daq.ModuleStatus{}, err
	}

	return daq.ModuleStatus{
		ErrorCode:    code,
		ErrorMessage: fields["ErrorMessage"],
		State:        state,
		Transition:   transition,
	}, nil
}
