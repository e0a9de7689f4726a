package rpmfmt

// Header value type constants (spec §4.12), matching the RPM v3 on-disk
// values exactly — these are read and written as raw integers, never
// reinterpreted.
const (
	TypeNull        = 0
	TypeChar        = 1
	TypeInt8        = 2
	TypeInt16       = 3
	TypeInt32       = 4
	TypeInt64       = 5
	TypeString      = 6
	TypeBin         = 7
	TypeStringArray = 8
	TypeI18NString  = 9
)

// Signature tags.
const (
	SigTagSize        = 1000
	SigTagMD5         = 1004
	SigTagPayloadSize = 1007
)

// Main header tags, grounded on _examples/original_source's rpm_writer.py
// and cross-checked against holo-build's rpm/header.go tag table.
const (
	TagName              = 1000
	TagVersion           = 1001
	TagRelease           = 1002
	TagSummary           = 1004
	TagDescription       = 1005
	TagBuildTime         = 1006
	TagBuildHost         = 1007
	TagSize              = 1009
	TagLicense           = 1014
	TagGroup             = 1016
	TagOS                = 1021
	TagArch              = 1022
	TagSourceRPM         = 1044
	TagFileVerifyFlags   = 1045
	TagProvideName       = 1047
	TagRequireFlags      = 1048
	TagRequireName       = 1049
	TagRequireVersion    = 1050
	TagRPMVersion        = 1064
	TagFileSizes         = 1028
	TagFileModes         = 1030
	TagFileRdevs         = 1033
	TagFileMtimes        = 1034
	TagFileMD5s          = 1035
	TagFileLinkTos       = 1036
	TagFileFlags         = 1037
	TagFileUserName      = 1039
	TagFileGroupName     = 1040
	TagFileDevices       = 1095
	TagFileInodes        = 1096
	TagFileLangs         = 1097
	TagDirIndexes        = 1116
	TagBasenames         = 1117
	TagDirNames          = 1118
	TagOptFlags          = 1122
	TagPayloadFormat     = 1124
	TagPayloadCompressor = 1125
	TagPayloadFlags      = 1126
	TagPlatform          = 1132
)
