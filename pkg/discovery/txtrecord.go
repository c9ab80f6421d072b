package discovery

import (
	"fmt"
	"sort"
	"strings"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeDaemonTXT creates TXT records for a daemon announcement.
func EncodeDaemonTXT(info *DaemonInfo) TXTRecordMap {
	txt := TXTRecordMap{
		TXTKeyPath:    info.Path,
		TXTKeyVersion: info.Version,
	}
	if txt[TXTKeyPath] == "" {
		txt[TXTKeyPath] = DefaultPath
	}
	if txt[TXTKeyVersion] == "" {
		txt[TXTKeyVersion] = ProtocolVersion
	}
	if info.TLS {
		txt[TXTKeyTLS] = "1"
	}
	if info.Codec != "" && info.Codec != "json" {
		txt[TXTKeyCodec] = info.Codec
	}
	return txt
}

// DecodeDaemonTXT parses daemon TXT records. Missing keys take defaults.
func DecodeDaemonTXT(txt TXTRecordMap) (*DaemonInfo, error) {
	info := &DaemonInfo{
		Path:    txt[TXTKeyPath],
		Codec:   txt[TXTKeyCodec],
		Version: txt[TXTKeyVersion],
	}
	if info.Path == "" {
		info.Path = DefaultPath
	}
	if !strings.HasPrefix(info.Path, "/") {
		return nil, fmt.Errorf("%w: path %q", ErrInvalidTXTRecord, info.Path)
	}
	if info.Codec == "" {
		info.Codec = "json"
	}

	switch txt[TXTKeyTLS] {
	case "", "0":
	case "1":
		info.TLS = true
	default:
		return nil, fmt.Errorf("%w: tls %q", ErrInvalidTXTRecord, txt[TXTKeyTLS])
	}
	return info, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to a slice of "key=value" strings,
// sorted by key.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(result)
	return result
}

// StringsToTXTRecords parses a slice of "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		parts := strings.SplitN(s, "=", 2)
		if len(parts) == 2 {
			txt[parts[0]] = parts[1]
		} else if len(parts) == 1 && parts[0] != "" {
			// Key without value (boolean flag)
			txt[parts[0]] = ""
		}
	}
	return txt
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInstanceNameTooLong)
	}
	if len(name) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	return nil
}
