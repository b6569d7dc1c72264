package dist

import (
	"fmt"
	"strconv"
)

// Field pairs a config field's wire name with a typed pointer into the
// local config. The caller lists every field to synchronize; the
// distributed-identity fields (host, port, local rank, rank, world
// size) must stay off the list so each rank keeps its own.
type Field struct {
	Name string
	Ptr  any
}

// SyncConfig makes every rank's config identical to rank 0's: rank 0
// publishes each field as a string, the others block on it and
// overwrite their local value with type-directed parsing.
func SyncConfig(store *Store, fields []Field) error {
	for _, f := range fields {
		key := "cfg/" + f.Name
		if store.Rank() == 0 {
			s, err := formatField(f.Ptr)
			if err != nil {
				return fmt.Errorf("dist: sync %s: %w", f.Name, err)
			}
			if err := store.Set(key, []byte(s)); err != nil {
				return err
			}
			continue
		}
		raw, err := store.Get(key)
		if err != nil {
			return err
		}
		if err := parseField(f.Ptr, string(raw)); err != nil {
			return fmt.Errorf("dist: sync %s: %w", f.Name, err)
		}
	}
	return nil
}

func formatField(ptr any) (string, error) {
	switch p := ptr.(type) {
	case *int:
		return strconv.Itoa(*p), nil
	case *int64:
		return strconv.FormatInt(*p, 10), nil
	case *uint64:
		return strconv.FormatUint(*p, 10), nil
	case *float64:
		return strconv.FormatFloat(*p, 'g', -1, 64), nil
	case *bool:
		return strconv.FormatBool(*p), nil
	case *string:
		return *p, nil
	}
	return "", fmt.Errorf("unsupported field type %T", ptr)
}

func parseField(ptr any, s string) error {
	switch p := ptr.(type) {
	case *int:
		v, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		*p = v
	case *int64:
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		*p = v
	case *uint64:
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return err
		}
		*p = v
	case *float64:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*p = v
	case *bool:
		v, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		*p = v
	case *string:
		*p = s
	default:
		return fmt.Errorf("unsupported field type %T", ptr)
	}
	return nil
}
