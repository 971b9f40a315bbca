package handlers

import (
	"strconv"
	"strings"
)

func parseRecordID(value string) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(value), 10, 64)
}
