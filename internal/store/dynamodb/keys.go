package dynamodb

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// PK/SK prefix constants.
const (
	prefixPool      = "POOL#"
	prefixPrice     = "PRICE#"
	prefixPermanent = "PERM#"
	prefixAgent     = "AGENT#"
	prefixSignal    = "SIGNAL#"
	prefixCommand   = "CMD#"
	prefixMailbox   = "CMDPEND#"
	prefixHistory   = "CMDHIST#"
	prefixLogical   = "LOGICAL#"
	prefixInstance  = "INSTANCE#"
	prefixReplica   = "REPLICA#"
	prefixEvent     = "EVENT#"
	prefixRecord    = "REC#"

	pkPoolIndex  = "POOLS"
	pkAgentIndex = "AGENTS"

	skIdentity = "IDENTITY"
	skCommand  = "CMD"
)

func poolPK(poolID string) string   { return prefixPool + poolID }
func agentPK(agentID string) string { return prefixAgent + agentID }
func commandPK(id string) string    { return prefixCommand + id }
func permanentPK(table string) string {
	return prefixPermanent + table
}
func logicalPK(clientID, logicalAgentID string) string {
	return prefixLogical + clientID + "#" + logicalAgentID
}
func replicaPK(replicaAgentID string) string { return prefixReplica + replicaAgentID }

func poolIndexSK(poolID string) string   { return prefixPool + poolID }
func agentIndexSK(agentID string) string { return prefixAgent + agentID }
func instanceSK(instanceID string) string {
	return prefixInstance + instanceID
}
func replicaListSK(replicaAgentID string) string { return prefixReplica + replicaAgentID }

// priceSK orders price points chronologically within a pool partition.
func priceSK(ts time.Time, sourceID string) string {
	return fmt.Sprintf("%s%013d#%s", prefixPrice, ts.UnixMilli(), sourceID)
}

// priceCutoffSK is the exclusive upper bound for purge/range scans.
func priceCutoffSK(ts time.Time) string {
	return fmt.Sprintf("%s%013d", prefixPrice, ts.UnixMilli())
}

func signalSK(signalType string, ts time.Time) string {
	return fmt.Sprintf("%s%s#%013d#%s", prefixSignal, signalType, ts.UnixMilli(), nonce())
}

func signalTypePrefix(signalType string) string {
	return prefixSignal + signalType + "#"
}

// mailboxSK orders pending commands by priority DESC, then creation ASC.
// Priority is inverted so that an ascending key scan yields highest first.
func mailboxSK(priority int, createdAt time.Time, id string) string {
	return fmt.Sprintf("%s%03d#%013d#%s", prefixMailbox, 999-priority, createdAt.UnixMilli(), id)
}

func historySK(createdAt time.Time, id string) string {
	return fmt.Sprintf("%s%013d#%s", prefixHistory, createdAt.UnixMilli(), id)
}

func permanentSK(ts time.Time) string {
	return fmt.Sprintf("%s%013d#%s", prefixRecord, ts.UnixMilli(), nonce())
}

func eventSK(ts time.Time) string {
	return fmt.Sprintf("%s%013d#%s", prefixEvent, ts.UnixMilli(), nonce())
}

func nonce() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func ttlEpoch(d time.Duration) int64 {
	return time.Now().Add(d).Unix()
}

func isExpired(epoch int64) bool {
	return epoch > 0 && time.Now().Unix() > epoch
}
