package wellknown

import (
	"encoding/xml"
	"io"
	"net/http"

	"github.com/davecheney/fedi/activitypub"
)

type xrd struct {
	XMLName xml.Name `xml:"http://docs.oasis-open.org/ns/xri/xrd-1.0 XRD"`
	Subject string   `xml:"Subject"`
	Link    xrdLink  `xml:"Link"`
}

type xrdLink struct {
	Rel      string `xml:"rel,attr"`
	Template string `xml:"template,attr"`
}

func HostMetaIndex(env *activitypub.Env, w http.ResponseWriter, r *http.Request) error {
	domain := env.Config().Domain
	w.Header().Set("Content-Type", "application/xrd+xml; charset=utf-8")
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	return xml.NewEncoder(w).Encode(xrd{
		Subject: domain,
		Link: xrdLink{
			Rel:      "lrdd",
			Template: "https://" + domain + "/.well-known/webfinger?resource={uri}",
		},
	})
}
