// Package hubspot synchronizes opportunities, clients, and contacts with the
// HubSpot CRM in both directions.
package hubspot

import "strings"

// Pipeline stages used internally.
const (
	StageNew         = "New"
	StageQualify     = "Qualify"
	StageProposal    = "Proposal"
	StageNegotiation = "Negotiation"
	StageClosedWon   = "ClosedWon"
	StageClosedLost  = "ClosedLost"
)

// stageFromHubSpot maps HubSpot deal stages to internal pipeline stages.
var stageFromHubSpot = map[string]string{
	"appointmentscheduled":  StageQualify,
	"qualifiedtobuy":        StageQualify,
	"presentationscheduled": StageProposal,
	"decisionmakerboughtin": StageProposal,
	"contractsent":          StageNegotiation,
	"closedwon":             StageClosedWon,
	"closedlost":            StageClosedLost,
}

// stageToHubSpot is the outbound direction. Qualify maps back to
// qualifiedtobuy, so Qualify does not round-trip through
// appointmentscheduled; every other stage does.
var stageToHubSpot = map[string]string{
	StageNew:         "appointmentscheduled",
	StageQualify:     "qualifiedtobuy",
	StageProposal:    "presentationscheduled",
	StageNegotiation: "contractsent",
	StageClosedWon:   "closedwon",
	StageClosedLost:  "closedlost",
}

// Customer journey phases used internally.
const (
	PhaseDiscovery    = "Discovery"
	PhaseData         = "Data"
	PhaseAlgorithm    = "Algorithm"
	PhaseArchitecture = "Architecture"
	PhaseCompounding  = "Compounding"
)

var phaseFromHubSpot = map[string]string{
	"lead":                   PhaseDiscovery,
	"marketingqualifiedlead": PhaseDiscovery,
	"salesqualifiedlead":     PhaseData,
	"opportunity":            PhaseAlgorithm,
	"customer":               PhaseArchitecture,
	"evangelist":             PhaseCompounding,
}

var phaseToHubSpot = map[string]string{
	PhaseDiscovery:    "lead",
	PhaseData:         "salesqualifiedlead",
	PhaseAlgorithm:    "opportunity",
	PhaseArchitecture: "customer",
	PhaseCompounding:  "evangelist",
}

// StageFromHubSpot returns the internal stage for a HubSpot deal stage,
// defaulting to New for unknown values.
func StageFromHubSpot(dealStage string) string {
	if stage, ok := stageFromHubSpot[strings.ToLower(dealStage)]; ok {
		return stage
	}
	return StageNew
}

// StageToHubSpot returns the HubSpot deal stage for an internal stage,
// defaulting to appointmentscheduled.
func StageToHubSpot(stage string) string {
	if mapped, ok := stageToHubSpot[stage]; ok {
		return mapped
	}
	return "appointmentscheduled"
}

// PhaseFromHubSpot returns the internal phase for a HubSpot lifecycle stage,
// defaulting to Discovery.
func PhaseFromHubSpot(lifecycleStage string) string {
	if phase, ok := phaseFromHubSpot[strings.ToLower(lifecycleStage)]; ok {
		return phase
	}
	return PhaseDiscovery
}

// PhaseToHubSpot returns the HubSpot lifecycle stage for an internal phase,
// defaulting to lead.
func PhaseToHubSpot(phase string) string {
	if mapped, ok := phaseToHubSpot[phase]; ok {
		return mapped
	}
	return "lead"
}

// SegmentForARR buckets annual recurring revenue into a client segment.
func SegmentForARR(arr float64) string {
	switch {
	case arr > 500000:
		return "Enterprise"
	case arr > 100000:
		return "Mid"
	default:
		return "SMB"
	}
}

// PowerForTitle infers a contact's buying power from their job title.
// First matching tier wins.
func PowerForTitle(title string) string {
	lowered := strings.ToLower(title)
	switch {
	case strings.Contains(lowered, "ceo"), strings.Contains(lowered, "cfo"), strings.Contains(lowered, "founder"):
		return "Economic"
	case strings.Contains(lowered, "vp"), strings.Contains(lowered, "director"), strings.Contains(lowered, "head"):
		return "Decision"
	case strings.Contains(lowered, "manager"), strings.Contains(lowered, "lead"):
		return "Influencer"
	default:
		return "User"
	}
}

// Local-id prefixes marking records that originated in HubSpot.
const (
	DealIDPrefix    = "hs_"
	CompanyIDPrefix = "hs_company_"
	ContactIDPrefix = "hs_contact_"
	OwnerIDPrefix   = "hs_owner_"
)

type Source string

const (
	SourceHubSpot  Source = "hubspot"
	SourceInternal Source = "internal"
)

// RecordID is the parsed provenance of a local record id. Records created
// locally carry no prefix and have no remote counterpart to push to.
type RecordID struct {
	Source     Source
	ExternalID string
}

// ParseRecordID splits a local id into source and external id for the given
// prefix. Ids without the prefix belong to internally created records.
func ParseRecordID(localID, prefix string) RecordID {
	externalID := strings.TrimPrefix(localID, prefix)
	if externalID == "" || externalID == localID {
		return RecordID{Source: SourceInternal}
	}
	return RecordID{Source: SourceHubSpot, ExternalID: externalID}
}

func dealLocalID(externalID string) string    { return DealIDPrefix + externalID }
func companyLocalID(externalID string) string { return CompanyIDPrefix + externalID }
func contactLocalID(externalID string) string { return ContactIDPrefix + externalID }

func ownerLocalID(externalID string) string {
	if externalID == "" {
		externalID = "system"
	}
	return OwnerIDPrefix + externalID
}

// SplitName separates a joined contact name into HubSpot's first/last pair.
func SplitName(name string) (first, last string) {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return "", ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}
