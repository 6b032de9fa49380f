/******************************************************************************
 *
 *  Description :
 *
 *  API key verification.
 *
 *****************************************************************************/

package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/md5"
	"encoding/base64"
	"net/http"

	"github.com/chemi/chat/server/logs"
)

// Singned AppID. Composition:
//
//	[1:algorithm version][4:appid][2:key sequence][1:isRoot][16:signature] = 24 bytes
//
// convertible to base64 without padding. All integers are little-endian.
// Appid is deprecated and ignored.
const (
	apikeyVersion   = 1
	apikeyAppid     = 4
	apikeySequence  = 2
	apikeyWho       = 1
	apikeySignature = 16
	apikeyLength    = apikeyVersion + apikeyAppid + apikeySequence + apikeyWho + apikeySignature
)

// checkAPIKey validates the signature of the client's key.
func checkAPIKey(apikey string) bool {
	if declen := base64.URLEncoding.DecodedLen(len(apikey)); declen != apikeyLength {
		return false
	}

	data, err := base64.URLEncoding.DecodeString(apikey)
	if err != nil {
		logs.Warn.Println("failed to decode.base64 appid ", err)
		return false
	}
	if data[0] != 1 {
		logs.Warn.Println("unknown appid signature algorithm ", data[0])
		return false
	}

	hasher := hmac.New(md5.New, globals.apiKeySalt)
	hasher.Write(data[:apikeyVersion+apikeyAppid+apikeySequence+apikeyWho])
	check := hasher.Sum(nil)
	if !bytes.Equal(data[apikeyVersion+apikeyAppid+apikeySequence+apikeyWho:], check) {
		logs.Warn.Println("invalid apikey signature")
		return false
	}

	return true
}

// getAPIKey reads the key from the URL query, form data or the X-Chat-APIKey header.
func getAPIKey(req *http.Request) string {
	apikey := req.FormValue("apikey")
	if apikey == "" {
		apikey = req.Header.Get("X-Chat-APIKey")
	}
	return apikey
}
