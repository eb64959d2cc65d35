package domain

import "time"

// DocumentStatus is the lifecycle state of a submitted verification document.
type DocumentStatus string

const (
	StatusPending  DocumentStatus = "pending"
	StatusVerified DocumentStatus = "verified"
	StatusRejected DocumentStatus = "rejected"
)

// ValidStatuses is the set of recognised document statuses.
var ValidStatuses = map[DocumentStatus]bool{
	StatusPending: true, StatusVerified: true, StatusRejected: true,
}

// VerificationDocType is a closed enumeration of the document kinds a seller
// can submit for a vehicle.
type VerificationDocType string

const (
	DocFichaTecnica       VerificationDocType = "ficha_tecnica"
	DocFotoKM             VerificationDocType = "foto_km"
	DocFotosExteriores    VerificationDocType = "fotos_exteriores"
	DocPlacaFabricante    VerificationDocType = "placa_fabricante"
	DocPermisoCirculacion VerificationDocType = "permiso_circulacion"
	DocTarjetaITV         VerificationDocType = "tarjeta_itv"
	DocADR                VerificationDocType = "adr"
	DocATP                VerificationDocType = "atp"
	DocExolum             VerificationDocType = "exolum"
	DocEstanqueidad       VerificationDocType = "estanqueidad"
	DocDGTReport          VerificationDocType = "dgt_report"
	DocInspectionReport   VerificationDocType = "inspection_report"
)

// ValidDocTypes is the set of recognised document types.
var ValidDocTypes = map[VerificationDocType]bool{
	DocFichaTecnica: true, DocFotoKM: true, DocFotosExteriores: true,
	DocPlacaFabricante: true, DocPermisoCirculacion: true, DocTarjetaITV: true,
	DocADR: true, DocATP: true, DocExolum: true, DocEstanqueidad: true,
	DocDGTReport: true, DocInspectionReport: true,
}

// ExtractedData holds the structured fields pulled out of a document by the
// extraction collaborator. Fields not present in a given document kind stay
// zero-valued.
type ExtractedData struct {
	PlateNumber string    `json:"plate_number,omitempty"`
	VIN         string    `json:"vin,omitempty"`
	OdometerKM  int64     `json:"odometer_km,omitempty"`
	IssuedAt    time.Time `json:"issued_at,omitempty"`
	Issuer      string    `json:"issuer,omitempty"`
}

// VerificationDocument is one submitted document and its lifecycle state.
// Created on submission in StatusPending; after that the only write path is
// an approve/reject transition.
type VerificationDocument struct {
	ID              string              `json:"id"`
	VehicleID       string              `json:"vehicle_id"`
	DocType         VerificationDocType `json:"doc_type"`
	FileRef         string              `json:"file_ref,omitempty"`
	Extracted       *ExtractedData      `json:"extracted,omitempty"`
	Status          DocumentStatus      `json:"status"`
	RejectionReason string              `json:"rejection_reason,omitempty"`
	SubmittedBy     string              `json:"submitted_by,omitempty"`
	VerifiedBy      string              `json:"verified_by,omitempty"`
	VerifiedAt      time.Time           `json:"verified_at,omitempty"`
	GeneratedAt     time.Time           `json:"generated_at"`
	ExpiresAt       time.Time           `json:"expires_at,omitempty"`
	PriceCents      int64               `json:"price_cents,omitempty"`
}

// CountsTowardLevel reports whether this document contributes to level
// derivation at the given instant. Only verified, unexpired documents count.
func (d VerificationDocument) CountsTowardLevel(now time.Time) bool {
	if d.Status != StatusVerified {
		return false
	}
	if !d.ExpiresAt.IsZero() && !now.Before(d.ExpiresAt) {
		return false
	}
	return true
}

// VerificationLevel is the discrete trust tier derived from a vehicle's
// verified documents. Levels are ordered; a higher value is a stronger badge.
type VerificationLevel int

const (
	LevelNone VerificationLevel = iota
	LevelVerified
	LevelExtended
	LevelDetailed
	LevelAudited
	LevelCertified
)

var levelNames = [...]string{"none", "verified", "extended", "detailed", "audited", "certified"}

func (l VerificationLevel) String() string {
	if l < LevelNone || l > LevelCertified {
		return "unknown"
	}
	return levelNames[l]
}

// Badge returns the marketplace badge shown for this level.
func (l VerificationLevel) Badge() string {
	switch l {
	case LevelVerified:
		return "✓"
	case LevelExtended:
		return "✓✓"
	case LevelDetailed:
		return "✓✓✓"
	case LevelAudited:
		return "★"
	case LevelCertified:
		return "🛡"
	default:
		return ""
	}
}

// ParseLevel converts a level name back to its enum value.
func ParseLevel(s string) (VerificationLevel, bool) {
	for i, name := range levelNames {
		if name == s {
			return VerificationLevel(i), true
		}
	}
	return LevelNone, false
}
