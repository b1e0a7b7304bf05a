package db

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchemaDeclaresEveryTable(t *testing.T) {
	for _, table := range []string{
		"users",
		"consultant_profiles",
		"consultant_availability",
		"services",
		"appointments",
		"appointment_services",
		"payments",
		"event_logs",
		"notifications",
	} {
		assert.Regexp(t, regexp.MustCompile(`CREATE TABLE IF NOT EXISTS `+table+` \(`), Schema(), table)
	}
}

func TestSchemaIsIdempotent(t *testing.T) {
	create := regexp.MustCompile(`(?m)^CREATE (TABLE|INDEX) `)
	guarded := regexp.MustCompile(`(?m)^CREATE (TABLE|INDEX) IF NOT EXISTS `)
	assert.Equal(t, len(create.FindAllString(Schema(), -1)), len(guarded.FindAllString(Schema(), -1)))
}
