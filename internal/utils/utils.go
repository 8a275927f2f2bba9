package utils

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

// ParseDurationEnv accepts anything time.ParseDuration does, or a bare integer of seconds.
func ParseDurationEnv(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("duration %q: want 10s, 5m or a number of seconds", s)
	}
	return d, nil
}

// PGUniqueConstraint returns the name of the violated unique constraint, if err is one.
func PGUniqueConstraint(err error) (string, bool) {
	var pge *pgconn.PgError
	if errors.As(err, &pge) && pge.Code == pgUniqueViolation {
		return pge.ConstraintName, true
	}
	return "", false
}
