package cloud

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Credentials hold the BytePlus access key pair and the region requests
// are signed for.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
}

// signInput is one request to be signed. Path is always "/" on the
// BytePlus open API gateway.
type signInput struct {
	Method  string
	Host    string
	Service string
	Query   url.Values
	Body    []byte
	Now     time.Time
}

// signRequest produces the headers for the BytePlus HMAC-SHA256 v4 scheme:
// a canonical request over method, path, sorted query, and the five signed
// headers (content-type, host, servicename, x-content-sha256, x-date); a
// string to sign scoped to date/region/service/request; and a signing key
// derived by chaining HMACs over those scope components.
func signRequest(creds Credentials, in signInput) http.Header {
	xDate := in.Now.UTC().Format("20060102T150405Z")
	shortDate := xDate[:8]
	contentType := "application/json"

	payloadHash := hashSHA256(in.Body)

	signHeaders := map[string]string{
		"content-type":     contentType,
		"host":             in.Host,
		"x-content-sha256": payloadHash,
		"x-date":           xDate,
		"servicename":      in.Service,
	}
	names := make([]string, 0, len(signHeaders))
	for name := range signHeaders {
		names = append(names, name)
	}
	sort.Strings(names)

	signedHeaders := strings.Join(names, ";")
	canonicalHeaders := make([]string, 0, len(names))
	for _, name := range names {
		canonicalHeaders = append(canonicalHeaders, name+":"+signHeaders[name])
	}

	canonicalRequest := strings.Join([]string{
		strings.ToUpper(in.Method),
		"/",
		canonicalQuery(in.Query),
		strings.Join(canonicalHeaders, "\n"),
		"",
		signedHeaders,
		payloadHash,
	}, "\n")

	credentialScope := strings.Join([]string{shortDate, creds.Region, in.Service, "request"}, "/")
	stringToSign := strings.Join([]string{
		"HMAC-SHA256",
		xDate,
		credentialScope,
		hashSHA256([]byte(canonicalRequest)),
	}, "\n")

	kDate := hmacSHA256([]byte(creds.SecretAccessKey), shortDate)
	kRegion := hmacSHA256(kDate, creds.Region)
	kService := hmacSHA256(kRegion, in.Service)
	kSigning := hmacSHA256(kService, "request")
	signature := hex.EncodeToString(hmacSHA256(kSigning, stringToSign))

	headers := http.Header{}
	headers.Set("Authorization",
		"HMAC-SHA256 Credential="+creds.AccessKeyID+"/"+credentialScope+
			", SignedHeaders="+signedHeaders+", Signature="+signature)
	headers.Set("Content-Type", contentType)
	headers.Set("Host", in.Host)
	headers.Set("X-Content-Sha256", payloadHash)
	headers.Set("X-Date", xDate)
	headers.Set("ServiceName", in.Service)
	return headers
}

// canonicalQuery renders the query sorted by key with RFC 3986 escaping;
// spaces must appear as %20, never "+".
func canonicalQuery(query url.Values) string {
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, v := range query[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(escape(k))
			b.WriteByte('=')
			b.WriteString(escape(v))
		}
	}
	return b.String()
}

func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func hashSHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key []byte, msg string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}
