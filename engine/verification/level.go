// Package verification implements the verification tier engine: a pure
// derivation from a vehicle's verified documents to its trust level, and the
// lifecycle controller that moves individual documents through
// pending -> verified/rejected.
package verification

import (
	"time"

	"github.com/Tank-Iberica/trust-engine/engine/domain"
	"github.com/Tank-Iberica/trust-engine/pkg/fn"
)

// Tier document requirements. Each tier requires everything below it except
// audited and certified, which stand alone (a vehicle with only a DGT report
// is audited even with nothing else approved).
var (
	verifiedTierDocs = []domain.VerificationDocType{
		domain.DocFichaTecnica, domain.DocFotoKM, domain.DocFotosExteriores,
	}
	extendedTierDocs = []domain.VerificationDocType{
		domain.DocFichaTecnica, domain.DocFotoKM, domain.DocFotosExteriores,
		domain.DocPlacaFabricante, domain.DocPermisoCirculacion, domain.DocTarjetaITV,
	}
	// sectorDocs are the sector-specific certificates; any single one
	// satisfies the detailed tier's extra requirement.
	sectorDocs = []domain.VerificationDocType{
		domain.DocADR, domain.DocATP, domain.DocExolum, domain.DocEstanqueidad,
	}
)

// CalculateLevel derives a vehicle's verification tier from its document set.
// Pure: the level is never stored as independent truth, only cached. Only
// verified, unexpired documents count; stale pending or rejected rows are
// ignored.
func CalculateLevel(docs []domain.VerificationDocument, now time.Time) domain.VerificationLevel {
	approved := approvedTypes(docs, now)

	if approved[domain.DocInspectionReport] {
		return domain.LevelCertified
	}
	if approved[domain.DocDGTReport] {
		return domain.LevelAudited
	}
	if hasAll(approved, extendedTierDocs) {
		if hasAny(approved, sectorDocs) {
			return domain.LevelDetailed
		}
		return domain.LevelExtended
	}
	if hasAll(approved, verifiedTierDocs) {
		return domain.LevelVerified
	}
	return domain.LevelNone
}

// MissingDocs returns the document types still needed to reach target. For
// the detailed tier, if no sector certificate is approved yet the full set of
// four sector options is returned, since any one of them satisfies the
// requirement and the caller needs the whole choice set.
func MissingDocs(docs []domain.VerificationDocument, target domain.VerificationLevel, now time.Time) []domain.VerificationDocType {
	approved := approvedTypes(docs, now)

	switch target {
	case domain.LevelVerified:
		return missingFrom(approved, verifiedTierDocs)
	case domain.LevelExtended:
		return missingFrom(approved, extendedTierDocs)
	case domain.LevelDetailed:
		missing := missingFrom(approved, extendedTierDocs)
		if !hasAny(approved, sectorDocs) {
			missing = append(missing, sectorDocs...)
		}
		return missing
	case domain.LevelAudited:
		return missingFrom(approved, []domain.VerificationDocType{domain.DocDGTReport})
	case domain.LevelCertified:
		return missingFrom(approved, []domain.VerificationDocType{domain.DocInspectionReport})
	default:
		return nil
	}
}

func approvedTypes(docs []domain.VerificationDocument, now time.Time) map[domain.VerificationDocType]bool {
	counting := fn.Filter(docs, func(d domain.VerificationDocument) bool {
		return d.CountsTowardLevel(now)
	})
	approved := make(map[domain.VerificationDocType]bool, len(counting))
	for _, d := range counting {
		approved[d.DocType] = true
	}
	return approved
}

func hasAll(approved map[domain.VerificationDocType]bool, required []domain.VerificationDocType) bool {
	for _, t := range required {
		if !approved[t] {
			return false
		}
	}
	return true
}

func hasAny(approved map[domain.VerificationDocType]bool, options []domain.VerificationDocType) bool {
	for _, t := range options {
		if approved[t] {
			return true
		}
	}
	return false
}

func missingFrom(approved map[domain.VerificationDocType]bool, required []domain.VerificationDocType) []domain.VerificationDocType {
	return fn.Filter(required, func(t domain.VerificationDocType) bool {
		return !approved[t]
	})
}
