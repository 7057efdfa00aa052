package connection

import (
	"encoding/json"
	"fmt"

	"github.com/rickgao/relaymesh/internal/model"
)

// Frame labels.
const (
	labelReq    = "REQ"
	labelClose  = "CLOSE"
	labelEvent  = "EVENT"
	labelEOSE   = "EOSE"
	labelOK     = "OK"
	labelNotice = "NOTICE"
	labelClosed = "CLOSED"
)

// frame is a decoded relay-to-client message.
type frame struct {
	Label    string
	SubID    string      // EVENT, EOSE, CLOSED
	Event    model.Event // EVENT
	EventID  string      // OK
	Accepted bool        // OK
	Message  string      // OK, NOTICE, CLOSED
}

func encodeReq(subID string, filters ...model.Filter) ([]byte, error) {
	msg := make([]any, 0, len(filters)+2)
	msg = append(msg, labelReq, subID)
	for _, f := range filters {
		msg = append(msg, f)
	}
	return json.Marshal(msg)
}

func encodeClose(subID string) ([]byte, error) {
	return json.Marshal([]any{labelClose, subID})
}

func encodeEvent(ev model.Event) ([]byte, error) {
	return json.Marshal([]any{labelEvent, ev})
}

// decodeFrame parses a relay message. Unknown labels are returned with only
// Label set so the caller can ignore them.
func decodeFrame(data []byte) (frame, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if len(parts) == 0 {
		return frame{}, fmt.Errorf("%w: empty array", ErrMalformedFrame)
	}

	var f frame
	if err := json.Unmarshal(parts[0], &f.Label); err != nil {
		return frame{}, fmt.Errorf("%w: label: %v", ErrMalformedFrame, err)
	}

	need := func(n int) error {
		if len(parts) < n {
			return fmt.Errorf("%w: %s needs %d elements, got %d", ErrMalformedFrame, f.Label, n, len(parts))
		}
		return nil
	}
	str := func(i int, dst *string) error {
		if err := json.Unmarshal(parts[i], dst); err != nil {
			return fmt.Errorf("%w: %s element %d: %v", ErrMalformedFrame, f.Label, i, err)
		}
		return nil
	}

	switch f.Label {
	case labelEvent:
		if err := need(3); err != nil {
			return frame{}, err
		}
		if err := str(1, &f.SubID); err != nil {
			return frame{}, err
		}
		if err := json.Unmarshal(parts[2], &f.Event); err != nil {
			return frame{}, fmt.Errorf("%w: event: %v", ErrMalformedFrame, err)
		}

	case labelEOSE:
		if err := need(2); err != nil {
			return frame{}, err
		}
		if err := str(1, &f.SubID); err != nil {
			return frame{}, err
		}

	case labelClosed:
		if err := need(2); err != nil {
			return frame{}, err
		}
		if err := str(1, &f.SubID); err != nil {
			return frame{}, err
		}
		if len(parts) > 2 {
			str(2, &f.Message)
		}

	case labelOK:
		if err := need(3); err != nil {
			return frame{}, err
		}
		if err := str(1, &f.EventID); err != nil {
			return frame{}, err
		}
		if err := json.Unmarshal(parts[2], &f.Accepted); err != nil {
			return frame{}, fmt.Errorf("%w: OK accepted flag: %v", ErrMalformedFrame, err)
		}
		if len(parts) > 3 {
			str(3, &f.Message)
		}

	case labelNotice:
		if len(parts) > 1 {
			str(1, &f.Message)
		}
	}

	return f, nil
}
