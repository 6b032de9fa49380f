// Generator and validator of API keys accepted by the chat server.
package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"flag"
	"fmt"
	"os"
)

// Generate API key
// Composition:
//
//	[1:algorithm version][4:deprecated appid][2:key sequence][1:isRoot][16:signature] = 24 bytes
//
// convertible to base64 without padding
// All integers are little-endian
func main() {
	version := flag.Int("sequence", 1, "Sequential number of the API key")
	isRoot := flag.Int("isroot", 0, "Is this a root API key?")
	apikey := flag.String("validate", "", "API key to validate")
	hmacSalt := flag.String("salt", "auto", "HMAC salt, 32 random bytes base64-encoded or 'auto' to generate salt")

	flag.Parse()

	if *apikey != "" {
		os.Exit(validate(*apikey, *hmacSalt))
	}
	os.Exit(generate(*version, *isRoot, *hmacSalt))
}

const (
	apikeyVersion   = 1
	apikeyAppid     = 4
	apikeySequence  = 2
	apikeyWho       = 1
	apikeySignature = 16
	apikeyLength    = apikeyVersion + apikeyAppid + apikeySequence + apikeyWho + apikeySignature
)

// sign computes the signature of the key body.
func sign(data []byte, salt []byte) []byte {
	hasher := hmac.New(md5.New, salt)
	hasher.Write(data[:apikeyVersion+apikeyAppid+apikeySequence+apikeyWho])
	return hasher.Sum(nil)
}

func generate(sequence, isRoot int, hmacSaltB64 string) int {
	var hmacSalt []byte
	if hmacSaltB64 == "auto" || hmacSaltB64 == "" {
		hmacSalt = make([]byte, 32)
		if _, err := rand.Read(hmacSalt); err != nil {
			fmt.Println("Error: Failed to generate HMAC salt", err)
			return 1
		}
		hmacSaltB64 = base64.StdEncoding.EncodeToString(hmacSalt)
	} else {
		var err error
		hmacSalt, err = base64.URLEncoding.DecodeString(hmacSaltB64)
		if err != nil {
			hmacSalt, err = base64.StdEncoding.DecodeString(hmacSaltB64)
		}
		if err != nil {
			fmt.Println("Error: Failed to decode HMAC salt", err)
			return 1
		}
	}

	var data [apikeyLength]byte

	// [1:algorithm version][4:appid][2:key sequence][1:isRoot]
	data[0] = 1 // default algorithm
	binary.LittleEndian.PutUint16(data[apikeyVersion+apikeyAppid:], uint16(sequence))
	data[apikeyVersion+apikeyAppid+apikeySequence] = uint8(isRoot)

	copy(data[apikeyVersion+apikeyAppid+apikeySequence+apikeyWho:], sign(data[:], hmacSalt))

	strIsRoot := "ordinary"
	if isRoot == 1 {
		strIsRoot = "ROOT"
	}

	fmt.Printf("API key v%d seq%d [%s]: %s\nHMAC salt: %s\n", 1, sequence, strIsRoot,
		base64.URLEncoding.EncodeToString(data[:]), hmacSaltB64)

	return 0
}

func validate(apikey, hmacSaltB64 string) int {
	if hmacSaltB64 == "auto" || hmacSaltB64 == "" {
		fmt.Println("Error: must provide HMAC salt for key validation")
		return 1
	}

	hmacSalt, err := base64.URLEncoding.DecodeString(hmacSaltB64)
	if err != nil {
		hmacSalt, err = base64.StdEncoding.DecodeString(hmacSaltB64)
	}
	if err != nil {
		fmt.Println("Error: Failed to decode HMAC salt", err)
		return 1
	}

	if declen := base64.URLEncoding.DecodedLen(len(apikey)); declen != apikeyLength {
		fmt.Println("Error: invalid key length", declen, "expecting", apikeyLength)
		return 1
	}

	data, err := base64.URLEncoding.DecodeString(apikey)
	if err != nil {
		fmt.Println("Error: failed to decode key as base64", err)
		return 1
	}

	if data[0] != 1 {
		fmt.Println("Error: unknown signature algorithm", data[0])
		return 1
	}

	if !bytes.Equal(data[apikeyVersion+apikeyAppid+apikeySequence+apikeyWho:], sign(data, hmacSalt)) {
		fmt.Println("Error: invalid signature")
		return 1
	}

	sequence := binary.LittleEndian.Uint16(data[apikeyVersion+apikeyAppid:])
	strIsRoot := "ordinary"
	if data[apikeyVersion+apikeyAppid+apikeySequence] == 1 {
		strIsRoot = "ROOT"
	}
	fmt.Printf("Valid v%d seq%d, [%s]\n", data[0], sequence, strIsRoot)

	return 0
}
