package notify

import (
	"encoding/xml"
	"strings"
)

// Kind tells incoming-call toasts from missed-call toasts.
type Kind int

const (
	KindIncoming Kind = iota
	KindMissed
)

func (k Kind) String() string {
	if k == KindIncoming {
		return "incoming"
	}
	return "missed"
}

const (
	// Group every call toast is filed under.
	Group = "calls"

	unknownCaller = "Unknown Caller"
)

// Action is one button on a toast. Args is "<action>:<callId>".
type Action struct {
	Label string
	Args  string
}

// Toast is the platform-neutral content of one notification.
type Toast struct {
	Kind    Kind
	Tag     string
	Title   string
	Body    string
	Actions []Action
}

// BuildToast lays out the toast for a call. Incoming calls get Accept and
// Reject, missed calls a single Call Back.
func BuildToast(kind Kind, from, callID string) Toast {
	if from == "" {
		from = unknownCaller
	}
	t := Toast{Kind: kind, Tag: callID, Body: from}
	if kind == KindIncoming {
		t.Title = "Incoming Call"
		t.Actions = []Action{
			{Label: "Accept", Args: "accept:" + callID},
			{Label: "Reject", Args: "reject:" + callID},
		}
	} else {
		t.Title = "Missed Call"
		t.Actions = []Action{{Label: "Call Back", Args: "call:" + callID}}
	}
	return t
}

type toastXML struct {
	XMLName  xml.Name    `xml:"toast"`
	Scenario string      `xml:"scenario,attr,omitempty"`
	Launch   string      `xml:"launch,attr,omitempty"`
	Visual   visualXML   `xml:"visual"`
	Audio    *audioXML   `xml:"audio,omitempty"`
	Actions  []actionXML `xml:"actions>action"`
}

type visualXML struct {
	Binding bindingXML `xml:"binding"`
}

type bindingXML struct {
	Template string   `xml:"template,attr"`
	Texts    []string `xml:"text"`
}

type audioXML struct {
	Silent string `xml:"silent,attr"`
}

type actionXML struct {
	Content        string `xml:"content,attr"`
	Arguments      string `xml:"arguments,attr"`
	ActivationType string `xml:"activationType,attr"`
}

// XML renders t as a Windows toast document. When scheme is set the
// actions use protocol activation ("<scheme>:<args>") so a click launches
// the app even when it is not running; otherwise foreground activation.
func (t Toast) XML(scheme string) (string, error) {
	doc := toastXML{
		Visual: visualXML{Binding: bindingXML{
			Template: "ToastGeneric",
			Texts:    []string{t.Title, t.Body},
		}},
	}
	if t.Kind == KindIncoming {
		doc.Scenario = "alarm"
		doc.Audio = &audioXML{Silent: "true"}
	}
	for _, a := range t.Actions {
		ax := actionXML{Content: a.Label, Arguments: a.Args, ActivationType: "foreground"}
		if scheme != "" {
			ax.Arguments = scheme + ":" + a.Args
			ax.ActivationType = "protocol"
		}
		doc.Actions = append(doc.Actions, ax)
	}

	var sb strings.Builder
	enc := xml.NewEncoder(&sb)
	if err := enc.Encode(doc); err != nil {
		return "", err
	}
	return sb.String(), nil
}
