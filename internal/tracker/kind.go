package tracker

import (
	"github.com/AdguardTeam/urlfilter/rules"
	"github.com/chromedp/cdproto/network"
)

// ResourceKind is the resource vocabulary filter lists are written against.
type ResourceKind string

const (
	KindMainFrame  ResourceKind = "main_frame"
	KindSubFrame   ResourceKind = "sub_frame"
	KindScript     ResourceKind = "script"
	KindStylesheet ResourceKind = "stylesheet"
	KindImage      ResourceKind = "image"
	KindFont       ResourceKind = "font"
	KindMedia      ResourceKind = "media"
	KindXHR        ResourceKind = "xhr"
	KindWebSocket  ResourceKind = "websocket"
	KindPing       ResourceKind = "ping"
	KindOther      ResourceKind = "other"
)

// cdpKinds maps browser resource types to filter-list kinds.
var cdpKinds = map[network.ResourceType]ResourceKind{
	network.ResourceTypeDocument:           KindMainFrame,
	network.ResourceTypeEventSource:        KindOther,
	network.ResourceTypeFetch:              KindXHR,
	network.ResourceTypeFont:               KindFont,
	network.ResourceTypeImage:              KindImage,
	network.ResourceTypeManifest:           KindOther,
	network.ResourceTypeMedia:              KindMedia,
	network.ResourceTypeOther:              KindOther,
	network.ResourceTypeScript:             KindScript,
	network.ResourceTypeStylesheet:         KindStylesheet,
	network.ResourceTypeTextTrack:          KindOther,
	network.ResourceTypeWebSocket:          KindWebSocket,
	network.ResourceTypeXHR:                KindXHR,
	network.ResourceTypePing:               KindPing,
	network.ResourceTypePrefetch:           KindOther,
	network.ResourceTypePreflight:          KindOther,
	network.ResourceTypeSignedExchange:     KindOther,
	network.ResourceTypeCSPViolationReport: KindOther,
}

// KindFromCDP maps a browser resource type to its filter-list kind. Types
// missing from the table map to KindOther.
func KindFromCDP(t network.ResourceType) ResourceKind {
	if k, ok := cdpKinds[t]; ok {
		return k
	}
	return KindOther
}

func (k ResourceKind) requestType() rules.RequestType {
	switch k {
	case KindMainFrame:
		return rules.TypeDocument
	case KindSubFrame:
		return rules.TypeSubdocument
	case KindScript:
		return rules.TypeScript
	case KindStylesheet:
		return rules.TypeStylesheet
	case KindImage:
		return rules.TypeImage
	case KindFont:
		return rules.TypeFont
	case KindMedia:
		return rules.TypeMedia
	case KindXHR:
		return rules.TypeXmlhttprequest
	case KindWebSocket:
		return rules.TypeWebsocket
	case KindPing:
		return rules.TypePing
	default:
		return rules.TypeOther
	}
}
