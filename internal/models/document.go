// internal/models/document.go
package models

import (
	"time"

	"github.com/google/uuid"
)

type DocumentType string

const (
	DocSanitaryApproval      DocumentType = "SANITARY_APPROVAL"
	DocSanitaryCert          DocumentType = "SANITARY_CERT"
	DocFreeSaleCert          DocumentType = "FREE_SALE_CERT"
	DocTechnicalDataSheet    DocumentType = "TECHNICAL_DATA_SHEET"
	DocBacterioAnalysis      DocumentType = "BACTERIO_ANALYSIS"
	DocPhysicoChemAnalysis   DocumentType = "PHYSICO_CHEM_ANALYSIS"
	DocRadioactivityAnalysis DocumentType = "RADIOACTIVITY_ANALYSIS"
	DocFumigationCert        DocumentType = "FUMIGATION_CERT"
	DocOfficialLetter        DocumentType = "OFFICIAL_LETTER"
	DocProductSheets         DocumentType = "PRODUCT_SHEETS"
	DocBrandLicense          DocumentType = "BRAND_LICENSE"
	DocConformityCert        DocumentType = "CONFORMITY_CERT_ANALYSIS_REPORT"
)

var documentLabels = map[DocumentType]string{
	DocSanitaryApproval:      "Certificat d'agrément/enregistrement de sécurité sanitaire",
	DocSanitaryCert:          "Certificat sanitaire",
	DocFreeSaleCert:          "Certificat de libre vente",
	DocTechnicalDataSheet:    "Fiche technique",
	DocBacterioAnalysis:      "Rapport d'analyse bactériologique",
	DocPhysicoChemAnalysis:   "Rapport d'analyse physico-chimique",
	DocRadioactivityAnalysis: "Rapport d'analyse de radioactivité",
	DocFumigationCert:        "Certificat de fumigation",
	DocOfficialLetter:        "Lettre officielle",
	DocProductSheets:         "Fiches produits",
	DocBrandLicense:          "Licence pour exploiter la marque",
	DocConformityCert:        "Certificat de conformité ou rapport d'analyse",
}

func (t DocumentType) IsValid() bool {
	_, ok := documentLabels[t]
	return ok
}

func (t DocumentType) Label() string {
	if label, ok := documentLabels[t]; ok {
		return label
	}
	return string(t)
}

// DocumentTypes lists the whole vocabulary.
func DocumentTypes() []DocumentType {
	return []DocumentType{
		DocSanitaryApproval, DocSanitaryCert, DocFreeSaleCert, DocTechnicalDataSheet,
		DocBacterioAnalysis, DocPhysicoChemAnalysis, DocRadioactivityAnalysis, DocFumigationCert,
		DocOfficialLetter, DocProductSheets, DocBrandLicense, DocConformityCert,
	}
}

type DocumentStatus string

const (
	DocumentStatusPending  DocumentStatus = "pending"
	DocumentStatusValid    DocumentStatus = "valid"
	DocumentStatusRejected DocumentStatus = "rejected"
)

type Document struct {
	BaseModel
	ApplicantID       uuid.UUID      `json:"applicant_id" gorm:"type:uuid;not null;index"`
	CaseID            *uuid.UUID     `json:"case_id" gorm:"type:uuid;index"`
	ProductID         *uuid.UUID     `json:"product_id" gorm:"type:uuid;index"`
	DocumentType      DocumentType   `json:"document_type" gorm:"type:varchar(40);not null"`
	Status            DocumentStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending'"`
	FileName          string         `json:"file_name" gorm:"size:255;not null"`
	FileLocator       string         `json:"-" gorm:"size:512"`
	MimeType          string         `json:"mime_type" gorm:"size:100"`
	FileSize          int64          `json:"file_size"`
	Checksum          string         `json:"checksum" gorm:"size:64"`
	ValidationComment string         `json:"validation_comment,omitempty" gorm:"type:text"`
	ValidatedBy       *uuid.UUID     `json:"validated_by" gorm:"type:uuid"`
	ValidatedAt       *time.Time     `json:"validated_at"`
	UploadedAt        time.Time      `json:"uploaded_at"`
}

// IsStored reports whether the upload completed and the bytes are addressable.
func (d *Document) IsStored() bool {
	return d.FileLocator != ""
}
