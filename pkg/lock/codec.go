package lock

import "encoding/json"

func encodeLease(l Lease) ([]byte, error) {
	return json.Marshal(l)
}

func decodeLease(data []byte) (*Lease, error) {
	var l Lease
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, err
	}
	return &l, nil
}
