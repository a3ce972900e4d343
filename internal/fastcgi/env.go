package fastcgi

import (
	"net"
	"net/http"
	"path"
	"strconv"
	"strings"
)

var headerNameReplacer = strings.NewReplacer(" ", "_", "-", "_")

// BuildEnv constructs the CGI/1.1 environment for one request, per
// spec.md §4.6: SCRIPT_FILENAME/DOCUMENT_ROOT under fastcgiWebRoot, request
// metadata, and HTTP_* header passthrough. Grounded on Caddy's
// fastcgi.Transport.buildEnv.
func BuildEnv(r *http.Request, scriptPath, fastcgiWebRoot string, tlsActive bool) map[string]string {
	remoteIP, remotePort, _ := net.SplitHostPort(r.RemoteAddr)
	if remoteIP == "" {
		remoteIP = r.RemoteAddr
	}

	serverName := r.Host
	serverPort := "80"
	if h, p, err := net.SplitHostPort(r.Host); err == nil {
		serverName, serverPort = h, p
	} else if tlsActive {
		serverPort = "443"
	}

	scheme := "http"
	if tlsActive {
		scheme = "https"
	}

	env := map[string]string{
		"AUTH_TYPE":         "",
		"CONTENT_LENGTH":    r.Header.Get("Content-Length"),
		"CONTENT_TYPE":      r.Header.Get("Content-Type"),
		"GATEWAY_INTERFACE": "CGI/1.1",
		"QUERY_STRING":      r.URL.RawQuery,
		"REMOTE_ADDR":       remoteIP,
		"REMOTE_HOST":       remoteIP,
		"REMOTE_PORT":       remotePort,
		"REMOTE_IDENT":      "",
		"REMOTE_USER":       "",
		"REQUEST_METHOD":    r.Method,
		"REQUEST_SCHEME":    scheme,
		"SERVER_NAME":       serverName,
		"SERVER_PORT":       serverPort,
		"SERVER_PROTOCOL":   r.Proto,
		"SERVER_SOFTWARE":   "gruxi",
		"DOCUMENT_ROOT":     fastcgiWebRoot,
		"DOCUMENT_URI":      r.URL.Path,
		"HTTP_HOST":         r.Host,
		"REQUEST_URI":       r.URL.RequestURI(),
		"SCRIPT_FILENAME":   path.Join(fastcgiWebRoot, scriptPath),
		"SCRIPT_NAME":       scriptPath,
		"PATH_INFO":         "",
	}
	if tlsActive {
		env["HTTPS"] = "on"
		if r.TLS != nil {
			env["SSL_PROTOCOL"] = tlsVersionName(r.TLS.Version)
		}
	}

	for field, vals := range r.Header {
		key := "HTTP_" + strings.ToUpper(headerNameReplacer.Replace(field))
		if key == "HTTP_CONTENT_TYPE" || key == "HTTP_CONTENT_LENGTH" {
			continue
		}
		env[key] = strings.Join(vals, ", ")
	}

	return env
}

func tlsVersionName(version uint16) string {
	switch version {
	case 0x0304:
		return "TLSv1.3"
	case 0x0303:
		return "TLSv1.2"
	case 0x0302:
		return "TLSv1.1"
	case 0x0301:
		return "TLSv1"
	default:
		return strconv.Itoa(int(version))
	}
}
