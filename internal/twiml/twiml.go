// Package twiml builds the call-control markup the telephony provider
// executes: play audio, gather speech, dial a number, hang up.
package twiml

import (
	"encoding/xml"
	"fmt"
)

// Response is the markup document. Verb order is execution order.
type Response struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

type Play struct {
	XMLName xml.Name `xml:"Play"`
	URL     string   `xml:",chardata"`
}

type Say struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

// Gather collects caller speech and posts the result to Action.
type Gather struct {
	XMLName       xml.Name `xml:"Gather"`
	Input         string   `xml:"input,attr"`
	Action        string   `xml:"action,attr"`
	Method        string   `xml:"method,attr"`
	SpeechTimeout string   `xml:"speechTimeout,attr,omitempty"`
	Verbs         []any
}

type Dial struct {
	XMLName  xml.Name `xml:"Dial"`
	CallerID string   `xml:"callerId,attr,omitempty"`
	Number   string   `xml:",chardata"`
}

type Hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// NewGather returns a speech gather posting to action.
func NewGather(action string, verbs ...any) Gather {
	return Gather{
		Input:         "speech",
		Action:        action,
		Method:        "POST",
		SpeechTimeout: "auto",
		Verbs:         verbs,
	}
}

// Render serializes the document with the XML declaration header.
func Render(r Response) string {
	out, err := xml.MarshalIndent(r, "", "    ")
	if err != nil {
		// Marshal of these fixed shapes cannot fail at runtime, but the
		// provider must still receive something executable.
		return xml.Header + fmt.Sprintf("<Response><Say>%s</Say><Hangup/></Response>", "We are unable to take your call right now. Goodbye.")
	}
	return xml.Header + string(out)
}
