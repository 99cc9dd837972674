package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitNameList(t *testing.T) {
	tests := []struct {
		name      string
		list      string
		delimiter string
		expected  []string
	}{
		{"empty", "", ",", nil},
		{"whitespace only", "  \n ", ",", nil},
		{"single without trailing delimiter", "dbo", ",", []string{"dbo"}},
		{"trailing delimiter kept", "dbo,sales,", ",", []string{"dbo", "sales"}},
		{"line breaks stripped", "Orders,\r\nOrder\nLines", ",", []string{"Orders", "OrderLines"}},
		{"empty entries dropped", "a,, ,b", ",", []string{"a", "b"}},
		{"custom delimiter", "a;b;c", ";", []string{"a", "b", "c"}},
		{"default delimiter", "a,b", "", []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SplitNameList(tt.list, tt.delimiter))
		})
	}
}

func TestContainsFold(t *testing.T) {
	assert.True(t, ContainsFold("SalesHistory", "history"))
	assert.True(t, ContainsFold("dbo", ""))
	assert.False(t, ContainsFold("dbo", "sales"))
}
