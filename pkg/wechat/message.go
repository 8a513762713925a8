package wechat

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// cdata marshals as a CDATA section, matching the wire format WeChat
// expects for every string field in reply XML.
type cdata struct {
	Value string `xml:",cdata"`
}

func (c *cdata) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var s string
	if err := d.DecodeElement(&s, &start); err != nil {
		return err
	}
	c.Value = s
	return nil
}

// Message is an inbound Official Account message or event, decoded from the
// decrypted XML body. Fields beyond the common header are populated
// depending on MsgType.
type Message struct {
	XMLName      xml.Name `xml:"xml"`
	ToUserName   string   `xml:"ToUserName"`
	FromUserName string   `xml:"FromUserName"`
	CreateTime   int64    `xml:"CreateTime"`
	MsgType      string   `xml:"MsgType"`
	MsgID        string   `xml:"MsgId"`

	// text
	Content string `xml:"Content"`

	// image
	PicURL  string `xml:"PicUrl"`
	MediaID string `xml:"MediaId"`

	// voice
	Format      string `xml:"Format"`
	Recognition string `xml:"Recognition"`

	// link
	Title       string `xml:"Title"`
	Description string `xml:"Description"`
	URL         string `xml:"Url"`

	// event (subscribe, unsubscribe, CLICK, ...)
	Event    string `xml:"Event"`
	EventKey string `xml:"EventKey"`
}

// ParseMessage decodes an inbound message from decrypted XML.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := xml.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.MsgType == "" {
		return nil, fmt.Errorf("message missing MsgType")
	}
	return &msg, nil
}

// TrackingID returns the identity used for deduplicating webhook retries.
// Normal messages carry a MsgId; events do not, and are identified by the
// sender, event name and create time instead. An empty result means the
// message cannot be tracked across retries.
func (m *Message) TrackingID() string {
	if m.MsgID != "" {
		return m.MsgID
	}
	if m.Event != "" {
		return fmt.Sprintf("%s_%s_%d", m.FromUserName, m.Event, m.CreateTime)
	}
	return ""
}

// IsEvent reports whether the message is an event push rather than a user
// message.
func (m *Message) IsEvent() bool {
	return strings.EqualFold(m.MsgType, "event")
}

type textReply struct {
	XMLName      xml.Name `xml:"xml"`
	ToUserName   cdata    `xml:"ToUserName"`
	FromUserName cdata    `xml:"FromUserName"`
	CreateTime   int64    `xml:"CreateTime"`
	MsgType      cdata    `xml:"MsgType"`
	Content      cdata    `xml:"Content"`
}

// BuildTextReply renders the passive reply XML for a text message,
// swapping the To/From of the inbound message.
func BuildTextReply(inbound *Message, content string, createTime int64) (string, error) {
	reply := textReply{
		ToUserName:   cdata{inbound.FromUserName},
		FromUserName: cdata{inbound.ToUserName},
		CreateTime:   createTime,
		MsgType:      cdata{"text"},
		Content:      cdata{content},
	}
	out, err := xml.Marshal(reply)
	if err != nil {
		return "", fmt.Errorf("failed to marshal reply: %w", err)
	}
	return string(out), nil
}
