package graph

import "github.com/neo4j/neo4j-go-driver/v5/neo4j"

func getStringValue(record *neo4j.Record, key string) string {
	if val, ok := record.Get(key); ok && val != nil {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return ""
}

func getIntValue(record *neo4j.Record, key string) int {
	if val, ok := record.Get(key); ok && val != nil {
		switch v := val.(type) {
		case int64:
			return int(v)
		case int:
			return v
		case float64:
			return int(v)
		}
	}
	return 0
}
